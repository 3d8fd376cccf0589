package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/orchestrix/ctrlplane/core"
)

// RedisKVStore implements core.KVStore over plain Redis GET/SETEX/DEL.
// Used for task result caching and saga checkpoints.
type RedisKVStore struct {
	client *Client
	logger core.Logger
}

// NewRedisKVStore wraps an already-connected Client as a KVStore.
func NewRedisKVStore(client *Client) *RedisKVStore {
	logger := client.logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("store")
	}
	return &RedisKVStore{client: client, logger: logger}
}

// Get returns the value for key, and false if it does not exist.
func (s *RedisKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.raw.Get(ctx, s.client.formatKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, core.ErrConnectionFailed)
	}
	return val, true, nil
}

// SetEx sets key to value, expiring after ttlSeconds (0 means no expiry).
func (s *RedisKVStore) SetEx(ctx context.Context, key, value string, ttlSeconds int64) error {
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	if err := s.client.raw.Set(ctx, s.client.formatKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("setex %s: %w", key, core.ErrConnectionFailed)
	}
	return nil
}

// Del removes key. Deleting a key that does not exist is not an error.
func (s *RedisKVStore) Del(ctx context.Context, key string) error {
	if err := s.client.raw.Del(ctx, s.client.formatKey(key)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, core.ErrConnectionFailed)
	}
	return nil
}
