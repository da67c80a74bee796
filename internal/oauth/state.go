package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix = "oauth:state:"
	stateTTL       = 10 * time.Minute
)

// StateStore holds single-use CSRF state nonces between the redirect and
// the callback.
type StateStore interface {
	Put(ctx context.Context, state, provider string) error
	// Take consumes the nonce. A second Take of the same state misses.
	Take(ctx context.Context, state string) (string, bool, error)
}

// RedisStateStore keeps nonces in Redis with a short TTL so abandoned
// authorization attempts clean themselves up.
type RedisStateStore struct {
	client *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) Put(ctx context.Context, state, provider string) error {
	if err := s.client.Set(ctx, stateKeyPrefix+state, provider, stateTTL).Err(); err != nil {
		return fmt.Errorf("store oauth state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Take(ctx context.Context, state string) (string, bool, error) {
	provider, err := s.client.GetDel(ctx, stateKeyPrefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("consume oauth state: %w", err)
	}
	return provider, true, nil
}
