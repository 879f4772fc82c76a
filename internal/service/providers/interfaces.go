package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

// Adapter is the uniform capability interface over one external provider.
// Implementations hide provider-specific auth and response parsing; callers
// see only "is this number listed" and "add it".
type Adapter interface {
	// Key returns the provider key this adapter serves
	Key() string

	// CheckListed reports whether the phone number is already on the
	// provider's do-not-call list. Must be read-only and side-effect free.
	CheckListed(ctx context.Context, phone values.PhoneNumber) (bool, error)

	// Add pushes the phone number onto the provider's list. Callers are
	// expected to call CheckListed first and skip Add when already listed;
	// these provider APIs do not reliably distinguish "already exists".
	Add(ctx context.Context, phone values.PhoneNumber) (*AddResult, error)
}

// AddResult carries the provider's raw response for the attempt ledger
type AddResult struct {
	OK          bool                   `json:"ok"`
	RawResponse map[string]interface{} `json:"raw_response,omitempty"`
}

// Credentials are the per-organization secrets for one provider, loaded from
// the provider settings store
type Credentials map[string]string

// Get returns a credential value, erroring with AuthError when absent
func (c Credentials) Get(providerKey, name string) (string, error) {
	value, ok := c[name]
	if !ok || value == "" {
		return "", domainerrors.NewAuthError(providerKey,
			fmt.Sprintf("missing credential %q for provider %s", name, providerKey))
	}
	return value, nil
}

// newHTTPClient builds the shared transport shape used by every adapter
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// classifyTransportError maps network-level failures onto the error taxonomy.
// Timeouts and connection errors are transient; everything else at this
// layer is too, since no response was received to prove otherwise.
func classifyTransportError(providerKey string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domainerrors.NewTransientError(providerKey, "request timed out").WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domainerrors.NewTransientError(providerKey, "request timed out").WithCause(err)
	}
	return domainerrors.NewTransientError(providerKey, "request failed").WithCause(err)
}

// classifyStatus maps an unexpected HTTP status onto the error taxonomy
func classifyStatus(providerKey string, status int, body []byte) error {
	detail := fmt.Sprintf("unexpected status %d", status)
	if len(body) > 0 {
		detail = fmt.Sprintf("%s: %s", detail, truncate(string(body), 200))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domainerrors.NewAuthError(providerKey, detail)
	case status == http.StatusTooManyRequests || status >= 500:
		return domainerrors.NewTransientError(providerKey, detail)
	default:
		return domainerrors.NewPermanentError(providerKey, detail)
	}
}

// readBody drains a response body with a sane cap
func readBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return body
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
