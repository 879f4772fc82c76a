package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

// CCCAdapter integrates with the Contact Center Compliance platform.
// Auth is a short-lived JWT minted locally from a shared signing secret;
// there is no token endpoint to call.
type CCCAdapter struct {
	config      CCCConfig
	credentials Credentials
	client      *http.Client
	rateLimiter *rate.Limiter
}

// CCCConfig contains configuration for the CCC adapter
type CCCConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RateLimitRPS int
	TokenTTL     time.Duration
}

// NewCCCAdapter creates a CCC adapter instance
func NewCCCAdapter(config CCCConfig, credentials Credentials) *CCCAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.dnc.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 5
	}
	if config.TokenTTL == 0 {
		config.TokenTTL = 5 * time.Minute
	}

	return &CCCAdapter{
		config:      config,
		credentials: credentials,
		client:      newHTTPClient(config.Timeout),
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitRPS*2),
	}
}

// Key returns the provider key
func (c *CCCAdapter) Key() string {
	return removal.ProviderCCC
}

// CheckListed reports whether the number is on the account's blocked list
func (c *CCCAdapter) CheckListed(ctx context.Context, phone values.PhoneNumber) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/dnc/"+phone.String(), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode != http.StatusOK {
		return false, classifyStatus(c.Key(), resp.StatusCode, body)
	}

	var decoded struct {
		Listed bool `json:"listed"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, domainerrors.NewPermanentError(c.Key(), "malformed lookup response").WithCause(err)
	}
	return decoded.Listed, nil
}

// Add places the number on the account's blocked list
func (c *CCCAdapter) Add(ctx context.Context, phone values.PhoneNumber) (*AddResult, error) {
	payload, err := json.Marshal(map[string]string{"phone_number": phone.String()})
	if err != nil {
		return nil, domainerrors.NewInternalError("marshaling ccc payload").WithCause(err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/dnc", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, classifyStatus(c.Key(), resp.StatusCode, body)
	}

	raw := map[string]interface{}{"status": resp.StatusCode}
	if len(body) > 0 {
		var decoded map[string]interface{}
		if err := json.Unmarshal(body, &decoded); err == nil {
			raw["response"] = decoded
		}
	}
	return &AddResult{OK: true, RawResponse: raw}, nil
}

func (c *CCCAdapter) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	token, err := c.mintToken()
	if err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(c.Key(), err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, domainerrors.NewInternalError("building ccc request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(c.Key(), err)
	}
	return resp, nil
}

// mintToken signs a short-lived JWT with the account's shared secret
func (c *CCCAdapter) mintToken() (string, error) {
	accountID, err := c.credentials.Get(c.Key(), "account_id")
	if err != nil {
		return "", err
	}
	secret, err := c.credentials.Get(c.Key(), "signing_secret")
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.config.TokenTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", domainerrors.NewAuthError(c.Key(), "failed to sign bearer token").WithCause(err)
	}
	return signed, nil
}
