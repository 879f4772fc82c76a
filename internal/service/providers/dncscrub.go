package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

// DNCScrubAdapter integrates with the DNCScrub telephony-compliance platform.
// Auth is HTTP basic; numbers are scoped to a project ID configured per
// organization.
type DNCScrubAdapter struct {
	config      DNCScrubConfig
	credentials Credentials
	client      *http.Client
	rateLimiter *rate.Limiter
}

// DNCScrubConfig contains configuration for the DNCScrub adapter
type DNCScrubConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RateLimitRPS int
}

// NewDNCScrubAdapter creates a DNCScrub adapter instance
func NewDNCScrubAdapter(config DNCScrubConfig, credentials Credentials) *DNCScrubAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://www.dncscrub.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 5
	}

	return &DNCScrubAdapter{
		config:      config,
		credentials: credentials,
		client:      newHTTPClient(config.Timeout),
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitRPS*2),
	}
}

// Key returns the provider key
func (d *DNCScrubAdapter) Key() string {
	return removal.ProviderDNCScrub
}

// CheckListed scrubs the number against the project's suppression list.
// A scrub match means the number is already suppressed.
func (d *DNCScrubAdapter) CheckListed(ctx context.Context, phone values.PhoneNumber) (bool, error) {
	projectID, err := d.credentials.Get(d.Key(), "project_id")
	if err != nil {
		return false, err
	}

	params := url.Values{
		"projectId": {projectID},
		"phones":    {phone.String()},
		"output":    {"json"},
	}

	resp, err := d.do(ctx, http.MethodGet, "/app/api/scrub?"+params.Encode(), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode != http.StatusOK {
		return false, classifyStatus(d.Key(), resp.StatusCode, body)
	}

	var decoded struct {
		Matches []string `json:"matches"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, domainerrors.NewPermanentError(d.Key(), "malformed scrub response").WithCause(err)
	}

	for _, match := range decoded.Matches {
		if match == phone.String() {
			return true, nil
		}
	}
	return false, nil
}

// Add uploads the number to the project's suppression list
func (d *DNCScrubAdapter) Add(ctx context.Context, phone values.PhoneNumber) (*AddResult, error) {
	projectID, err := d.credentials.Get(d.Key(), "project_id")
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"projectId": {projectID},
		"phones":    {phone.String()},
		"listType":  {"internal"},
	}

	resp, err := d.do(ctx, http.MethodPost, "/app/api/upload", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(d.Key(), resp.StatusCode, body)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, domainerrors.NewPermanentError(d.Key(), "malformed upload response").WithCause(err)
	}

	return &AddResult{OK: true, RawResponse: decoded}, nil
}

func (d *DNCScrubAdapter) do(ctx context.Context, method, path string, body *strings.Reader) (*http.Response, error) {
	username, err := d.credentials.Get(d.Key(), "username")
	if err != nil {
		return nil, err
	}
	password, err := d.credentials.Get(d.Key(), "password")
	if err != nil {
		return nil, err
	}

	if err := d.rateLimiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(d.Key(), err)
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, d.config.BaseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, d.config.BaseURL+path, nil)
	}
	if err != nil {
		return nil, domainerrors.NewInternalError("building dncscrub request").WithCause(err)
	}
	req.SetBasicAuth(username, password)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(d.Key(), err)
	}
	return resp, nil
}
