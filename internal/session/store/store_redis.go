package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"brewlog/internal/session/models"
	"brewlog/pkg/platform/sentinel"
)

// DefaultRedisKey is the hash holding both token slots.
const DefaultRedisKey = "brewlog:session"

// RedisStore keeps the token pair in one Redis hash, fields auth_token and
// refresh_token. A single HSET writes both fields atomically.
type RedisStore struct {
	client *redis.Client
	key    string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisKey overrides the hash key, e.g. to namespace per device profile.
func WithRedisKey(key string) RedisOption {
	return func(s *RedisStore) {
		if key != "" {
			s.key = key
		}
	}
}

// NewRedis constructs a Redis-backed token store.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, key: DefaultRedisKey}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) Load(ctx context.Context) (*models.TokenPair, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load token pair: %w", err)
	}
	access := fields[models.KeyAccessToken]
	if access == "" {
		return nil, fmt.Errorf("token pair not found: %w", sentinel.ErrNotFound)
	}
	return &models.TokenPair{AccessToken: access, RefreshToken: fields[models.KeyRefreshToken]}, nil
}

func (s *RedisStore) Save(ctx context.Context, access, refresh string) error {
	// Delete and HSET run in one MULTI so a dropped refresh slot never
	// survives next to a new access token.
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, models.KeyAccessToken, access, models.KeyRefreshToken, refresh)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save token pair: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear token pair: %w", err)
	}
	return nil
}
