package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores cache entries in Redis, for deployments sharing the
// Assayer cache across multiple rigsd instances.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend returns a RedisBackend using client, namespacing all
// keys under prefix (e.g. "rigs:assayer:").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + k
}

func (r *RedisBackend) Get(ctx context.Context, key string) (*Entry, bool) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, false
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (r *RedisBackend) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	entry := Entry{
		Key:       key,
		Value:     value,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), payload, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) {
	r.client.Del(ctx, r.key(key))
}
