package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

// AttemptStore remembers the idempotency key chosen for a client-supplied
// request key so retries of one logical payment reach the processor under
// the same key.
type AttemptStore interface {
	// Claim stores candidate for (scope, requestKey) unless a key is already
	// stored, and returns the stored key.
	Claim(ctx context.Context, scope, requestKey, candidate string) (string, error)
}

// RedisAttemptStore keeps attempt groups in Redis with a TTL.
type RedisAttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAttemptStore builds a store over client.
func NewRedisAttemptStore(client *redis.Client, ttl time.Duration) *RedisAttemptStore {
	return &RedisAttemptStore{client: client, ttl: ttl}
}

func attemptKey(scope, requestKey string) string {
	return fmt.Sprintf("payment:attempt:%s:%s", scope, requestKey)
}

// Claim implements AttemptStore. Redis failures wrap ErrExternalService so
// the payment is not sent without a stable key.
func (s *RedisAttemptStore) Claim(ctx context.Context, scope, requestKey, candidate string) (string, error) {
	key := attemptKey(scope, requestKey)

	stored, err := s.client.SetNX(ctx, key, candidate, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%w: claim attempt: %v", apperrors.ErrExternalService, err)
	}
	if stored {
		return candidate, nil
	}

	existing, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		if ok, err := s.client.SetNX(ctx, key, candidate, s.ttl).Result(); err == nil && ok {
			return candidate, nil
		}
		return "", fmt.Errorf("%w: attempt key vanished", apperrors.ErrExternalService)
	}
	if err != nil {
		return "", fmt.Errorf("%w: read attempt: %v", apperrors.ErrExternalService, err)
	}
	return existing, nil
}
