package webhook

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Deduper claims (runId, type) pairs so a redelivered event is handled once.
type Deduper interface {
	// Claim returns true the first time key is seen within the window.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a failed handling can be retried.
	Release(ctx context.Context, key string) error
}

// EventKey identifies one delivery of an event type for a run.
func EventKey(runID, eventType string) string {
	return fmt.Sprintf("%s:%s", runID, eventType)
}

// RedisDeduper claims keys with SET NX.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, "webhook:seen:"+key, 1, d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, "webhook:seen:"+key).Err()
}

// MemoryDeduper keeps claimed keys in process memory.
type MemoryDeduper struct {
	cache *gocache.Cache
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{cache: gocache.New(ttl, 2*ttl)}
}

func (d *MemoryDeduper) Claim(ctx context.Context, key string) (bool, error) {
	// Add fails when the key is present and unexpired.
	return d.cache.Add(key, struct{}{}, gocache.DefaultExpiration) == nil, nil
}

func (d *MemoryDeduper) Release(ctx context.Context, key string) error {
	d.cache.Delete(key)
	return nil
}
