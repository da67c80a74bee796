package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRevocations(t *testing.T, ttl time.Duration) (*RedisRevocations, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRevocations(client, ttl), server
}

func TestRedisRevocationsRoundTrip(t *testing.T) {
	revocations, _ := newTestRevocations(t, 15*time.Minute)
	ctx := context.Background()

	horizon := time.Now().UTC().Truncate(time.Second)
	if err := revocations.RevokeUser(ctx, "user-1", horizon); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}

	got, found, err := revocations.RevokedSince(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokedSince: %v", err)
	}
	if !found {
		t.Fatal("horizon not found after RevokeUser")
	}
	if !got.Equal(horizon) {
		t.Errorf("horizon = %v, want %v", got, horizon)
	}
}

func TestRedisRevocationsMissingUser(t *testing.T) {
	revocations, _ := newTestRevocations(t, 15*time.Minute)

	_, found, err := revocations.RevokedSince(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("RevokedSince: %v", err)
	}
	if found {
		t.Fatal("found a horizon for a user that was never revoked")
	}
}

func TestRedisRevocationsOverwriteKeepsLatest(t *testing.T) {
	revocations, _ := newTestRevocations(t, 15*time.Minute)
	ctx := context.Background()

	first := time.Now().UTC().Truncate(time.Second)
	later := first.Add(time.Minute)

	if err := revocations.RevokeUser(ctx, "user-1", first); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	if err := revocations.RevokeUser(ctx, "user-1", later); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}

	got, found, err := revocations.RevokedSince(ctx, "user-1")
	if err != nil || !found {
		t.Fatalf("RevokedSince: found=%v err=%v", found, err)
	}
	if !got.Equal(later) {
		t.Errorf("horizon = %v, want %v", got, later)
	}
}

func TestRedisRevocationsExpireWithAccessTTL(t *testing.T) {
	revocations, server := newTestRevocations(t, time.Minute)
	ctx := context.Background()

	if err := revocations.RevokeUser(ctx, "user-1", time.Now().UTC()); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}

	server.FastForward(2 * time.Minute)

	_, found, err := revocations.RevokedSince(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokedSince: %v", err)
	}
	if found {
		t.Fatal("horizon survived past the access-token TTL")
	}
}
