package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is a short-lived credential minted by a provider's auth endpoint
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// refreshMargin is how long before expiry a cached token is considered stale,
// so an in-flight call never carries a token that expires mid-request.
const refreshMargin = 30 * time.Second

// TokenSource mints a fresh token from the provider
type TokenSource func(ctx context.Context) (Token, error)

// TokenCache holds one provider's token with expiry-aware refresh. Concurrent
// refreshes are deduplicated through singleflight so a burst of adapter calls
// after expiry produces exactly one auth request. Owned by the adapter that
// uses it; there is no process-global token state.
type TokenCache struct {
	source TokenSource

	mu    sync.RWMutex
	token Token

	group singleflight.Group
}

// NewTokenCache creates a token cache around a source
func NewTokenCache(source TokenSource) *TokenCache {
	return &TokenCache{source: source}
}

// GetValid returns a token that is valid for at least the refresh margin,
// refreshing through the source when needed
func (c *TokenCache) GetValid(ctx context.Context) (string, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if token.Value != "" && time.Until(token.ExpiresAt) > refreshMargin {
		return token.Value, nil
	}

	value, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		// Re-check under the flight: another caller may have refreshed
		// between our read and joining the group
		c.mu.RLock()
		current := c.token
		c.mu.RUnlock()
		if current.Value != "" && time.Until(current.ExpiresAt) > refreshMargin {
			return current.Value, nil
		}

		fresh, err := c.source(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.token = fresh
		c.mu.Unlock()
		return fresh.Value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Invalidate drops the cached token, forcing the next GetValid to refresh.
// Called when a provider rejects a token before its expected expiry.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}
