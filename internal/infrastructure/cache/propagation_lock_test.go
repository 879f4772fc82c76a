package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLock(t *testing.T, ttl time.Duration) (*PropagationLock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewPropagationLock(client, ttl, zaptest.NewLogger(t)), mr
}

func TestPropagationLock_AcquireRelease(t *testing.T) {
	lock, _ := newTestLock(t, time.Minute)
	ctx := context.Background()

	requestID := uuid.New()

	ok, err := lock.Acquire(ctx, requestID, "ytel")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second acquire on the same pair loses
	ok, err = lock.Acquire(ctx, requestID, "ytel")
	require.NoError(t, err)
	assert.False(t, ok)

	// A different provider for the same request is independent
	ok, err = lock.Acquire(ctx, requestID, "genesys")
	require.NoError(t, err)
	assert.True(t, ok)

	// Release frees the slot
	require.NoError(t, lock.Release(ctx, requestID, "ytel"))
	ok, err = lock.Acquire(ctx, requestID, "ytel")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPropagationLock_TTLExpiry(t *testing.T) {
	lock, mr := newTestLock(t, time.Second)
	ctx := context.Background()

	requestID := uuid.New()

	ok, err := lock.Acquire(ctx, requestID, "dncscrub")
	require.NoError(t, err)
	require.True(t, ok)

	// A crashed holder's marker expires rather than blocking forever
	mr.FastForward(2 * time.Second)

	ok, err = lock.Acquire(ctx, requestID, "dncscrub")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPropagationLock_ReleaseIdempotent(t *testing.T) {
	lock, _ := newTestLock(t, time.Minute)
	ctx := context.Background()

	// Releasing a slot that was never held is not an error
	assert.NoError(t, lock.Release(ctx, uuid.New(), "ccc"))
}
