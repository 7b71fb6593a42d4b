package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// HistoryCache caches history pages between reconnects.
type HistoryCache interface {
	Get(ctx context.Context, key string) (*ChatHistoryResponse, error)
	Set(ctx context.Context, key string, page *ChatHistoryResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// RedisHistoryCache stores history pages in Redis.
type RedisHistoryCache struct {
	client *redis.Client
	prefix string
}

// NewRedisHistoryCache wraps an existing Redis client.
func NewRedisHistoryCache(client *redis.Client, prefix string) *RedisHistoryCache {
	return &RedisHistoryCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisHistoryCache) key(k string) string {
	return c.prefix + ":" + k
}

func (c *RedisHistoryCache) Get(ctx context.Context, key string) (*ChatHistoryResponse, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var page ChatHistoryResponse
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &page, nil
}

func (c *RedisHistoryCache) Set(ctx context.Context, key string, page *ChatHistoryResponse, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisHistoryCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}
