package repository

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisKV is a KeyValue backed by go-redis. Values are written with SET and
// no expiry, so each Put atomically replaces the previous value.
type RedisKV struct {
	retrier
	client redis.Cmdable
}

// NewRedisKV constructs a new Redis-backed store.
func NewRedisKV(client redis.Cmdable, logger *zap.Logger) *RedisKV {
	return &RedisKV{retrier: newRetrier(logger.Named("redis_kv")), client: client}
}

// Get reads the value stored under key.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.executeWithRetry(ctx, "repository.redis.get", key, func() error {
		result, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		value = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put writes value under key.
func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	return r.executeWithRetry(ctx, "repository.redis.put", key, func() error {
		return r.client.Set(ctx, key, value, 0).Err()
	})
}
