package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces token keys.
const DefaultRedisPrefix = "examprep:token:"

// RedisTokenStore keeps tokens in Redis with native expiry. GETDEL makes
// redemption atomic across instances.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisTokenStore(client *redis.Client, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

func (s *RedisTokenStore) Issue(ctx context.Context, purpose Purpose, subject string, ttl time.Duration) (string, error) {
	// A collision of 256-bit tokens is not expected; SETNX makes one harmless.
	for range 3 {
		tok, err := GenerateToken()
		if err != nil {
			return "", err
		}
		ok, err := s.client.SetNX(ctx, s.prefix+tokenKey(purpose, tok), subject, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("store token: %w", err)
		}
		if ok {
			return tok, nil
		}
	}
	return "", errors.New("store token: could not allocate a unique token")
}

func (s *RedisTokenStore) Consume(ctx context.Context, purpose Purpose, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	subject, err := s.client.GetDel(ctx, s.prefix+tokenKey(purpose, token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("redeem token: %w", err)
	}
	return subject, nil
}

// Cleanup is a no-op; Redis expires keys itself.
func (s *RedisTokenStore) Cleanup(context.Context) error { return nil }
