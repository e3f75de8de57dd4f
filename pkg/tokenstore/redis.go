package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps entries in Redis, letting several client processes
// (e.g. portal replicas) share one session view. Entries carry a Redis TTL
// matching their lapse time so abandoned sessions clean themselves up.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBackend stores keys as prefix+key. An empty prefix is allowed.
func NewRedisBackend(client redis.Cmdable, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore: redis get %s: %w", key, err)
	}
	return data, nil
}

func (b *RedisBackend) Save(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			return b.Delete(ctx, key)
		}
	}

	if err := b.client.Set(ctx, b.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("tokenstore: redis set %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("tokenstore: redis del %s: %w", key, err)
	}
	return nil
}
