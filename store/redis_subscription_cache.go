package store

import (
	"context"
	"strconv"
	"time"

	"github.com/BatmanBruc/subpay-bot/types"
)

const defaultSubscriptionCacheTTL = 60 * time.Second

// RedisSubscriptionCache keeps short-lived snapshots of a user's active
// subscription for status screens. Postgres stays authoritative.
type RedisSubscriptionCache struct {
	client *RedisClient
	ttl    time.Duration
}

func NewRedisSubscriptionCache(redisClient *RedisClient, ttl time.Duration) *RedisSubscriptionCache {
	if ttl <= 0 {
		ttl = defaultSubscriptionCacheTTL
	}
	return &RedisSubscriptionCache{client: redisClient, ttl: ttl}
}

func (c *RedisSubscriptionCache) key(userID int64) string {
	return c.client.generateKey("sub", strconv.FormatInt(userID, 10))
}

// Get returns ErrCacheMiss when no snapshot is stored.
func (c *RedisSubscriptionCache) Get(ctx context.Context, userID int64) (*types.Subscription, error) {
	var sub types.Subscription
	if err := c.client.Get(ctx, c.key(userID), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *RedisSubscriptionCache) Set(ctx context.Context, userID int64, sub *types.Subscription) error {
	return c.client.Set(ctx, c.key(userID), sub, c.ttl)
}

func (c *RedisSubscriptionCache) Invalidate(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, c.key(userID))
}
