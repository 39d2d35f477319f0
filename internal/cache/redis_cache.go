package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tindahan/backend/internal/domain"
)

type RedisReadingCache struct {
	client *redis.Client
}

func NewRedisReadingCache(addr string, password string, db int) *RedisReadingCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReadingCache{client: client}
}

func (c *RedisReadingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReadingCache) Close() error {
	return c.client.Close()
}

func (c *RedisReadingCache) Get(ctx context.Context, key string) (*domain.Reading, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var reading domain.Reading
	if err := json.Unmarshal([]byte(val), &reading); err != nil {
		return nil, false, err
	}
	return &reading, true, nil
}

func (c *RedisReadingCache) Set(ctx context.Context, key string, value *domain.Reading, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
