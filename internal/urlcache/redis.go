package urlcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"gachavault/internal/core"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// URL is the connection URL, e.g. "redis://localhost:6379/0".
	URL string
	// KeyPrefix namespaces the cache keys (default: "gachavault:url").
	KeyPrefix string
}

// RedisCache stores validated URLs in Redis, for deployments where the HTTP
// surface runs in more than one process. Keys are xxhash-derived so an
// account uid never appears in the keyspace.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gachavault:url"
	}
	slog.Info("redis url cache connected", "prefix", prefix, "ttl", TTL)

	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) redisKey(key string) string {
	return fmt.Sprintf("%s:%016x", c.prefix, xxhash.Sum64String(key))
}

// Get returns the entry for key. Redis expires entries at the TTL measured
// from Put, which can outlive the URL's own window; the creation-time check
// evicts those early.
func (c *RedisCache) Get(ctx context.Context, key string) (core.GachaURL, bool, error) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err == redis.Nil {
		return core.GachaURL{}, false, nil
	}
	if err != nil {
		return core.GachaURL{}, false, fmt.Errorf("get url from redis: %w", err)
	}

	var url core.GachaURL
	if err := json.Unmarshal(data, &url); err != nil {
		return core.GachaURL{}, false, fmt.Errorf("decode cached url: %w", err)
	}
	if !url.Fresh(time.Now()) {
		_ = c.client.Del(ctx, c.redisKey(key)).Err()
		return core.GachaURL{}, false, nil
	}
	return url, true, nil
}

// Put stores url under key with the freshness TTL.
func (c *RedisCache) Put(ctx context.Context, key string, url core.GachaURL) error {
	data, err := json.Marshal(url)
	if err != nil {
		return fmt.Errorf("encode url: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), data, TTL).Err(); err != nil {
		return fmt.Errorf("set url in redis: %w", err)
	}
	return nil
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("delete url from redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
