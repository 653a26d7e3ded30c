package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"branchtale/internal/domain/services"
)

const (
	fieldData        = "data"
	fieldContentType = "content_type"
)

// RedisCache stores audio in redis hashes so several server instances share
// one cache
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ services.AudioCache = (*RedisCache)(nil)

// NewRedisCache connects to url (redis://...) and verifies the connection
func NewRedisCache(ctx context.Context, url, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: client, prefix: prefix}, nil
}

// Close releases the connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

// Get returns the cached audio, or nil data on a miss
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, string, error) {
	values, err := c.client.HGetAll(ctx, c.key(key)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("read cached audio: %w", err)
	}
	data, ok := values[fieldData]
	if !ok {
		return nil, "", nil
	}
	return []byte(data), values[fieldContentType], nil
}

// Put stores the entry; ttl 0 keeps it until Clear
func (c *RedisCache) Put(ctx context.Context, key string, data []byte, contentType string, ttl time.Duration) error {
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key(key), fieldData, data, fieldContentType, contentType)
	if ttl > 0 {
		pipe.Expire(ctx, c.key(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store audio in redis: %w", err)
	}
	return nil
}

// Clear deletes every key under the cache prefix
func (c *RedisCache) Clear(ctx context.Context) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()

	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("clear redis audio cache: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan redis audio cache: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}
