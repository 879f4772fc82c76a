package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

// YtelAdapter integrates with the ytel dialer platform's non-agent API.
// Auth is static credentials passed as query parameters; responses are plain
// text in the legacy dialer style, so both calls parse by substring.
type YtelAdapter struct {
	config      YtelConfig
	credentials Credentials
	client      *http.Client
	rateLimiter *rate.Limiter
}

// YtelConfig contains configuration for the ytel adapter
type YtelConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RateLimitRPS int
}

// NewYtelAdapter creates a ytel adapter instance
func NewYtelAdapter(config YtelConfig, credentials Credentials) *YtelAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.ytel.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 5
	}

	return &YtelAdapter{
		config:      config,
		credentials: credentials,
		client:      newHTTPClient(config.Timeout),
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitRPS*2),
	}
}

// Key returns the provider key
func (y *YtelAdapter) Key() string {
	return removal.ProviderYtel
}

// CheckListed looks the number up in the dialer's DNC list
func (y *YtelAdapter) CheckListed(ctx context.Context, phone values.PhoneNumber) (bool, error) {
	body, err := y.call(ctx, url.Values{
		"function":     {"dnc_lookup"},
		"phone_number": {phone.String()},
	})
	if err != nil {
		return false, err
	}

	switch {
	case strings.Contains(body, "IN DNC"):
		return true, nil
	case strings.Contains(body, "NOT FOUND"):
		return false, nil
	default:
		return false, domainerrors.NewPermanentError(y.Key(),
			"unrecognized dnc_lookup response: "+truncate(body, 200))
	}
}

// Add pushes the number onto the dialer's DNC list
func (y *YtelAdapter) Add(ctx context.Context, phone values.PhoneNumber) (*AddResult, error) {
	body, err := y.call(ctx, url.Values{
		"function":     {"update_dnc"},
		"action":       {"add"},
		"phone_number": {phone.String()},
	})
	if err != nil {
		return nil, err
	}

	if !strings.Contains(body, "SUCCESS") {
		return nil, domainerrors.NewPermanentError(y.Key(),
			"update_dnc rejected: "+truncate(body, 200))
	}

	return &AddResult{
		OK:          true,
		RawResponse: map[string]interface{}{"body": strings.TrimSpace(body)},
	}, nil
}

func (y *YtelAdapter) call(ctx context.Context, params url.Values) (string, error) {
	user, err := y.credentials.Get(y.Key(), "user")
	if err != nil {
		return "", err
	}
	pass, err := y.credentials.Get(y.Key(), "pass")
	if err != nil {
		return "", err
	}

	if err := y.rateLimiter.Wait(ctx); err != nil {
		return "", classifyTransportError(y.Key(), err)
	}

	params.Set("user", user)
	params.Set("pass", pass)
	params.Set("source", "dnc-propagation")

	endpoint := y.config.BaseURL + "/x5/api/non_agent.php?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", domainerrors.NewInternalError("building ytel request").WithCause(err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return "", classifyTransportError(y.Key(), err)
	}
	defer resp.Body.Close()

	body := string(readBody(resp))
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(y.Key(), resp.StatusCode, []byte(body))
	}

	// The legacy API reports auth failures as 200s with an ERROR body
	if strings.HasPrefix(strings.TrimSpace(body), "ERROR: Invalid Username/Password") {
		return "", domainerrors.NewAuthError(y.Key(), "invalid dialer credentials")
	}

	return body, nil
}
