package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"farmakart/backend/internal/domain"
)

type RedisTaxConfigCache struct {
	client *redis.Client
}

func NewRedisTaxConfigCache(addr string, password string, db int) *RedisTaxConfigCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTaxConfigCache{client: client}
}

func (c *RedisTaxConfigCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTaxConfigCache) Close() error {
	return c.client.Close()
}

func cacheKey(siteID string) string {
	return "taxconfig:" + siteID
}

func (c *RedisTaxConfigCache) Get(ctx context.Context, siteID string) (*domain.TaxConfig, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(siteID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cfg domain.TaxConfig
	if err := json.Unmarshal([]byte(val), &cfg); err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

func (c *RedisTaxConfigCache) Set(ctx context.Context, siteID string, value *domain.TaxConfig, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(siteID), payload, ttl).Err()
}

func (c *RedisTaxConfigCache) Delete(ctx context.Context, siteID string) error {
	return c.client.Del(ctx, cacheKey(siteID)).Err()
}
