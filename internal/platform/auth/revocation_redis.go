package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

const revokedJTIPrefix = "hms:revoked:jti:"

// RedisRevocationStore shares refresh-token revocations between server
// instances. Keys carry a TTL matching the covered token's remaining life.
type RedisRevocationStore struct {
	client *redis.Client
	clock  clock.Clock
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisRevocationStore(client *redis.Client, clk clock.Clock) *RedisRevocationStore {
	if clk == nil {
		clk = clock.New()
	}
	return &RedisRevocationStore{client: client, clock: clk}
}

func (s *RedisRevocationStore) ttl(until time.Time) time.Duration {
	d := until.Sub(s.clock.Now())
	if d < time.Second {
		return time.Second
	}
	return d
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	if err := s.client.Set(ctx, revokedJTIPrefix+jti, userID, s.ttl(expiresAt)).Err(); err != nil {
		return fmt.Errorf("revoke token %s: %w", jti, err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, claims *Claims) (bool, error) {
	n, err := s.client.Exists(ctx, revokedJTIPrefix+claims.ID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}
