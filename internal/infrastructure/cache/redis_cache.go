package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"emojivote/internal/errs"
	"emojivote/internal/ports"
)

// RedisCache shares dedupe markers between several bot processes.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.Cache = (*RedisCache)(nil)

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return "", false, err
	}

	value, err := c.client.Get(ctx, c.prefix+trimmedKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, errs.Wrap(err, "redis get")
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}

	if err := c.client.Set(ctx, c.prefix+trimmedKey, value, ttl).Err(); err != nil {
		return errs.Wrap(err, "redis set")
	}
	return nil
}

func (c *RedisCache) Claim(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return false, err
	}
	if ttl < 0 {
		ttl = 0
	}

	won, err := c.client.SetNX(ctx, c.prefix+trimmedKey, value, ttl).Result()
	if err != nil {
		return false, errs.Wrap(err, "redis setnx")
	}
	return won, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	if err := c.client.Del(ctx, c.prefix+trimmedKey).Err(); err != nil {
		return errs.Wrap(err, "redis del")
	}
	return nil
}
