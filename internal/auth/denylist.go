package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedUserKeyPrefix = "auth:revoked_user:"

// RedisRevocations keeps a per-user revocation horizon in Redis. Entries
// expire with the access TTL: once every token minted before the horizon has
// expired on its own, the marker is useless and Redis drops it.
type RedisRevocations struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRevocations(client *redis.Client, accessTTL time.Duration) *RedisRevocations {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &RedisRevocations{client: client, ttl: accessTTL}
}

func (r *RedisRevocations) RevokeUser(ctx context.Context, userID string, at time.Time) error {
	key := revokedUserKeyPrefix + userID
	if err := r.client.Set(ctx, key, strconv.FormatInt(at.Unix(), 10), r.ttl).Err(); err != nil {
		return fmt.Errorf("set revocation horizon: %w", err)
	}
	return nil
}

func (r *RedisRevocations) RevokedSince(ctx context.Context, userID string) (time.Time, bool, error) {
	value, err := r.client.Get(ctx, revokedUserKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("get revocation horizon: %w", err)
	}

	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse revocation horizon: %w", err)
	}

	return time.Unix(unix, 0).UTC(), true, nil
}
