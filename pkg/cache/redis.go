package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKey is the single key holding the latest computed aggregate.
const RedisKey = "crm:aggregate:latest"

// RedisStore keeps the cache entry in Redis so multiple dashboard replicas
// share one computed aggregate. The entry is stored without a Redis-level
// expiry: freshness is the Cache's decision, and a stale entry must remain
// in place when a recomputation fails.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (*Entry, error) {
	data, err := s.redis.Get(ctx, RedisKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoEntry
		}
		CacheErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, RedisKey, data, 0).Err(); err != nil {
		CacheErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, RedisKey).Err(); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
