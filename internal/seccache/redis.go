package seccache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs Cache with a shared Redis instance, the distributed
// deployment path spec §9 names without mandating ("replacing in-memory
// security caches with an external store").
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps client, namespacing every key under prefix so the
// security cache can share a Redis instance with other concerns.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) key(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

// Incr implements Cache using INCR plus EXPIRE NX, issued as a pipeline so
// both round-trip in a single call. EXPIRE NX only arms the TTL the first
// time the key is created, matching MemoryCache's "ttl after the window
// opened, not after the last request" semantics.
func (r *RedisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, r.key(key))
	pipe.ExpireNX(ctx, r.key(key), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("seccache: redis incr %q: %w", key, err)
	}
	return incrCmd.Val(), nil
}

// SetNX implements Cache via Redis SET NX EX.
func (r *RedisCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("seccache: redis setnx %q: %w", key, err)
	}
	return ok, nil
}

// Get implements Cache via Redis GET, treating a missing key as 0.
func (r *RedisCache) Get(ctx context.Context, key string) (int64, error) {
	v, err := r.client.Get(ctx, r.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("seccache: redis get %q: %w", key, err)
	}
	return v, nil
}
