package payments

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	defaultDedupeTTL      = 24 * time.Hour
	defaultDedupeCapacity = 10000
	redisDedupePrefix     = "contrax:webhook:"
)

// Deduper remembers notifications that were already applied.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// MemoryDeduper keeps keys in a process-local expiring LRU.
type MemoryDeduper struct {
	cache *expirable.LRU[string, struct{}]
}

func NewMemoryDeduper(capacity int, ttl time.Duration) *MemoryDeduper {
	if capacity <= 0 {
		capacity = defaultDedupeCapacity
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &MemoryDeduper{cache: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

func (d *MemoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	return d.cache.Contains(key), nil
}

func (d *MemoryDeduper) Mark(_ context.Context, key string) error {
	d.cache.Add(key, struct{}{})
	return nil
}

// RedisDeduper shares keys between replicas.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	_, err := d.client.Get(ctx, redisDedupePrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, key string) error {
	return d.client.Set(ctx, redisDedupePrefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Err()
}
