// Package cache кэширует реферальную статистику в Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/referral-system/internal/model"
)

const statsKeyPrefix = "referral:stats:"

// RedisStatsCache хранит статистику по реферальным кодам с ограниченным временем жизни.
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatsCache подключается к Redis и проверяет соединение.
func NewRedisStatsCache(ctx context.Context, addr, password string, ttl time.Duration) (*RedisStatsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStatsCache{client: client, ttl: ttl}, nil
}

// Get возвращает статистику из кэша. Второй результат равен false при промахе.
func (c *RedisStatsCache) Get(ctx context.Context, code string) (*model.ReferralStats, bool, error) {
	raw, err := c.client.Get(ctx, statsKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get stats: %w", err)
	}

	var stats model.ReferralStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, false, fmt.Errorf("decode stats: %w", err)
	}

	return &stats, true, nil
}

// Set сохраняет статистику на время ttl.
func (c *RedisStatsCache) Set(ctx context.Context, stats *model.ReferralStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	if err := c.client.Set(ctx, statsKey(stats.ReferralCode), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set stats: %w", err)
	}
	return nil
}

// Invalidate удаляет статистику кода из кэша.
func (c *RedisStatsCache) Invalidate(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, statsKey(code)).Err(); err != nil {
		return fmt.Errorf("delete stats: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *RedisStatsCache) Close() error {
	return c.client.Close()
}

func statsKey(code string) string {
	return statsKeyPrefix + code
}
