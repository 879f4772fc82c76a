package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PropagationLockPrefix namespaces the in-flight markers in Redis
const PropagationLockPrefix = "dnc:propagation:inflight:"

// PropagationLock serializes concurrent retries for the same
// (request, provider) pair. Two operators clicking retry at the same moment
// must produce one new attempt row, not two; the loser of the SETNX race
// gets an "already in flight" answer.
type PropagationLock struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewPropagationLock creates a Redis-backed in-flight marker store
func NewPropagationLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) *PropagationLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &PropagationLock{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Acquire tries to claim the in-flight slot for the pair. Returns false when
// another propagation run already holds it. The TTL bounds how long a crashed
// holder can block retries.
func (l *PropagationLock) Acquire(ctx context.Context, requestID uuid.UUID, providerKey string) (bool, error) {
	key := l.key(requestID, providerKey)
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring propagation lock: %w", err)
	}
	if !ok {
		l.logger.Debug("propagation already in flight",
			zap.String("request_id", requestID.String()),
			zap.String("provider", providerKey))
	}
	return ok, nil
}

// Release frees the in-flight slot. Safe to call on a slot that expired.
func (l *PropagationLock) Release(ctx context.Context, requestID uuid.UUID, providerKey string) error {
	if err := l.client.Del(ctx, l.key(requestID, providerKey)).Err(); err != nil {
		return fmt.Errorf("releasing propagation lock: %w", err)
	}
	return nil
}

func (l *PropagationLock) key(requestID uuid.UUID, providerKey string) string {
	return PropagationLockPrefix + requestID.String() + ":" + providerKey
}
