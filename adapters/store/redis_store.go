package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lumen-market/caravel/core"
	"github.com/lumen-market/caravel/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the TokenStore interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) ports.TokenStore {
	return &RedisStore{
		client: client,
		prefix: "caravel:token:",
	}
}

// PutToken caches a session token for an account in Redis
func (s *RedisStore) PutToken(ctx context.Context, account, token string, ttl time.Duration) error {
	key := s.prefix + account

	if err := s.client.Set(ctx, key, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache token: %w", err)
	}

	return nil
}

// GetToken returns the cached token for an account from Redis
func (s *RedisStore) GetToken(ctx context.Context, account string) (string, error) {
	key := s.prefix + account

	token, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", core.ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	return token, nil
}
