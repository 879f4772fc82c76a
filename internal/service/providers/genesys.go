package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

// GenesysAdapter integrates with the Genesys Cloud contact-center platform.
// Auth is OAuth client-credentials; the short-lived bearer token is held in
// an injected TokenCache with single-flight refresh. Numbers live on an
// organization-scoped DNC list addressed by list ID.
type GenesysAdapter struct {
	config      GenesysConfig
	credentials Credentials
	client      *http.Client
	rateLimiter *rate.Limiter
	tokens      *TokenCache
}

// GenesysConfig contains configuration for the Genesys adapter
type GenesysConfig struct {
	BaseURL      string
	AuthURL      string
	Timeout      time.Duration
	RateLimitRPS int
}

// NewGenesysAdapter creates a Genesys Cloud adapter instance
func NewGenesysAdapter(config GenesysConfig, credentials Credentials) *GenesysAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.usw2.pure.cloud"
	}
	if config.AuthURL == "" {
		config.AuthURL = "https://login.usw2.pure.cloud"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}

	adapter := &GenesysAdapter{
		config:      config,
		credentials: credentials,
		client:      newHTTPClient(config.Timeout),
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitRPS*2),
	}
	adapter.tokens = NewTokenCache(adapter.fetchToken)
	return adapter
}

// Key returns the provider key
func (g *GenesysAdapter) Key() string {
	return removal.ProviderGenesys
}

// CheckListed reports whether the number is on the organization's DNC list
func (g *GenesysAdapter) CheckListed(ctx context.Context, phone values.PhoneNumber) (bool, error) {
	listID, err := g.credentials.Get(g.Key(), "dnc_list_id")
	if err != nil {
		return false, err
	}

	endpoint := fmt.Sprintf("%s/api/v2/outbound/dnclists/%s/phonenumbers/%s",
		g.config.BaseURL, listID, url.PathEscape(phone.E164()))

	resp, err := g.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body := readBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, classifyStatus(g.Key(), resp.StatusCode, body)
	}
}

// Add appends the number to the organization's DNC list
func (g *GenesysAdapter) Add(ctx context.Context, phone values.PhoneNumber) (*AddResult, error) {
	listID, err := g.credentials.Get(g.Key(), "dnc_list_id")
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal([]string{phone.E164()})
	if err != nil {
		return nil, domainerrors.NewInternalError("marshaling genesys payload").WithCause(err)
	}

	endpoint := fmt.Sprintf("%s/api/v2/outbound/dnclists/%s/phonenumbers", g.config.BaseURL, listID)
	resp, err := g.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted &&
		resp.StatusCode != http.StatusNoContent {
		return nil, classifyStatus(g.Key(), resp.StatusCode, body)
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

func (g *GenesysAdapter) do(ctx context.Context, method, endpoint string, payload []byte) (*http.Response, error) {
	token, err := g.tokens.GetValid(ctx)
	if err != nil {
		return nil, err
	}

	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(g.Key(), err)
	}

	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, domainerrors.NewInternalError("building genesys request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(g.Key(), err)
	}

	// A rejected token may have been revoked before its expected expiry;
	// drop it so the next call re-authenticates
	if resp.StatusCode == http.StatusUnauthorized {
		g.tokens.Invalidate()
	}
	return resp, nil
}

// fetchToken mints a bearer token via the OAuth client-credentials grant
func (g *GenesysAdapter) fetchToken(ctx context.Context) (Token, error) {
	clientID, err := g.credentials.Get(g.Key(), "client_id")
	if err != nil {
		return Token{}, err
	}
	clientSecret, err := g.credentials.Get(g.Key(), "client_secret")
	if err != nil {
		return Token{}, err
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.config.AuthURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, domainerrors.NewInternalError("building genesys token request").WithCause(err)
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return Token{}, classifyTransportError(g.Key(), err)
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return Token{}, domainerrors.NewAuthError(g.Key(), "client credentials rejected")
		}
		return Token{}, classifyStatus(g.Key(), resp.StatusCode, body)
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Token{}, domainerrors.NewAuthError(g.Key(), "malformed token response").WithCause(err)
	}
	if decoded.AccessToken == "" {
		return Token{}, domainerrors.NewAuthError(g.Key(), "token response carried no access token")
	}

	return Token{
		Value:     decoded.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second),
	}, nil
}
