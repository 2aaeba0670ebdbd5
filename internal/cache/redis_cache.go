package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"htxsale/backend/internal/domain"
)

const pricingKey = "htxsale:pricing"

type RedisPricingCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPricingCache(addr string, password string, db int, ttl time.Duration) *RedisPricingCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &RedisPricingCache{client: client, ttl: ttl}
}

func (c *RedisPricingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPricingCache) Close() error {
	return c.client.Close()
}

func (c *RedisPricingCache) Get(ctx context.Context) (*domain.Pricing, bool, error) {
	val, err := c.client.Get(ctx, pricingKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var pricing domain.Pricing
	if err := json.Unmarshal([]byte(val), &pricing); err != nil {
		return nil, false, err
	}
	return &pricing, true, nil
}

func (c *RedisPricingCache) Set(ctx context.Context, pricing domain.Pricing) error {
	payload, err := json.Marshal(pricing)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pricingKey, payload, c.ttl).Err()
}

func (c *RedisPricingCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, pricingKey).Err()
}
