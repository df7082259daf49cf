package statuscache

import (
	"context"
	"errors"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/redis"
)

// RedisBackend stores entries in Redis with native key expiry.
type RedisBackend struct {
	client *pkgredis.Client
}

// NewRedisBackend wraps an already-connected client.
func NewRedisBackend(client *pkgredis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key)
	if errors.Is(err, pkgredis.ErrNil) {
		return nil, ErrMiss
	}
	return data, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl)
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key)
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}
