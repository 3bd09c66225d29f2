package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_sales/internal/domain"
)

const defaultTTL = 15 * time.Minute

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = defaultTTL
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCache) Get(ctx context.Context, orderID int64) (*domain.Totals, error) {
	key := cacheKey(orderID)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var totals domain.Totals
	if err2 := json.Unmarshal(data, &totals); err2 != nil {
		return nil, fmt.Errorf("unmarshal totals failed: %w", err2)
	}

	return &totals, nil
}

// Set stores totals with the base TTL plus up to a minute of jitter.
func (r RedisCache) Set(ctx context.Context, orderID int64, totals *domain.Totals) error {
	key := cacheKey(orderID)
	data, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("marshal totals failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(60)) * time.Second
	if err := r.client.Set(ctx, key, string(data), r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, orderID int64) error {
	if err := r.client.Del(ctx, cacheKey(orderID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(orderID int64) string {
	return fmt.Sprintf("order_totals:%d", orderID)
}
