package providers

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

// FilevineAdapter integrates with the Filevine case-management platform's
// do-not-contact list. Sessions are obtained by posting an MD5 hash of
// key/timestamp/secret to the session endpoint; the resulting access token is
// short-lived and cached through TokenCache.
type FilevineAdapter struct {
	config      FilevineConfig
	credentials Credentials
	client      *http.Client
	rateLimiter *rate.Limiter
	sessions    *TokenCache
}

// FilevineConfig contains configuration for the Filevine adapter
type FilevineConfig struct {
	BaseURL      string
	AuthURL      string
	Timeout      time.Duration
	RateLimitRPS int
	SessionTTL   time.Duration
}

// NewFilevineAdapter creates a Filevine adapter instance
func NewFilevineAdapter(config FilevineConfig, credentials Credentials) *FilevineAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.filevine.io"
	}
	if config.AuthURL == "" {
		config.AuthURL = config.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 5
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = 10 * time.Minute
	}

	a := &FilevineAdapter{
		config:      config,
		credentials: credentials,
		client:      newHTTPClient(config.Timeout),
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitRPS*2),
	}
	a.sessions = NewTokenCache(a.openSession)
	return a
}

// Key returns the provider key
func (f *FilevineAdapter) Key() string {
	return removal.ProviderFilevine
}

// CheckListed reports whether the number is on the org's do-not-contact list
func (f *FilevineAdapter) CheckListed(ctx context.Context, phone values.PhoneNumber) (bool, error) {
	resp, err := f.do(ctx, http.MethodGet, "/core/dnc/"+phone.String(), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body := readBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		var decoded struct {
			DoNotContact bool `json:"doNotContact"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return false, domainerrors.NewPermanentError(f.Key(), "malformed lookup response").WithCause(err)
		}
		return decoded.DoNotContact, nil
	case http.StatusNotFound:
		// Unknown number means it is not on the list
		return false, nil
	default:
		return false, classifyStatus(f.Key(), resp.StatusCode, body)
	}
}

// Add places the number on the org's do-not-contact list
func (f *FilevineAdapter) Add(ctx context.Context, phone values.PhoneNumber) (*AddResult, error) {
	payload, err := json.Marshal(map[string]string{"phoneNumber": phone.String()})
	if err != nil {
		return nil, domainerrors.NewInternalError("marshaling filevine payload").WithCause(err)
	}

	resp, err := f.do(ctx, http.MethodPost, "/core/dnc", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, classifyStatus(f.Key(), resp.StatusCode, body)
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

func (f *FilevineAdapter) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	token, err := f.sessions.GetValid(ctx)
	if err != nil {
		return nil, err
	}
	userID, err := f.credentials.Get(f.Key(), "user_id")
	if err != nil {
		return nil, err
	}
	orgID, err := f.credentials.Get(f.Key(), "org_id")
	if err != nil {
		return nil, err
	}

	if err := f.rateLimiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(f.Key(), err)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, domainerrors.NewInternalError("building filevine request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-fv-userid", userID)
	req.Header.Set("x-fv-orgid", orgID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(f.Key(), err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		f.sessions.Invalidate()
	}
	return resp, nil
}

// openSession posts the key/timestamp/secret hash to the session endpoint.
// The hash is MD5 over "apiKey/timestamp/apiSecret", per Filevine's session
// protocol; the timestamp must match the one sent in the body.
func (f *FilevineAdapter) openSession(ctx context.Context) (Token, error) {
	apiKey, err := f.credentials.Get(f.Key(), "api_key")
	if err != nil {
		return Token{}, err
	}
	apiSecret, err := f.credentials.Get(f.Key(), "api_secret")
	if err != nil {
		return Token{}, err
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	sum := md5.Sum([]byte(fmt.Sprintf("%s/%s/%s", apiKey, timestamp, apiSecret)))

	payload, err := json.Marshal(map[string]string{
		"mode":         "key",
		"apiKey":       apiKey,
		"apiHash":      hex.EncodeToString(sum[:]),
		"apiTimestamp": timestamp,
	})
	if err != nil {
		return Token{}, domainerrors.NewInternalError("marshaling filevine session payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.AuthURL+"/session", bytes.NewReader(payload))
	if err != nil {
		return Token{}, domainerrors.NewInternalError("building filevine session request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Token{}, classifyTransportError(f.Key(), err)
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return Token{}, domainerrors.NewAuthError(f.Key(), "session login rejected")
		}
		return Token{}, classifyStatus(f.Key(), resp.StatusCode, body)
	}

	var session struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return Token{}, domainerrors.NewPermanentError(f.Key(), "malformed session response").WithCause(err)
	}
	if session.AccessToken == "" {
		return Token{}, domainerrors.NewAuthError(f.Key(), "session response missing access token")
	}

	return Token{
		Value:     session.AccessToken,
		ExpiresAt: time.Now().Add(f.config.SessionTTL),
	}, nil
}
