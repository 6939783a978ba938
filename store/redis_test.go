package store

import (
	"context"
	"testing"
	"time"

	"github.com/BatmanBruc/subpay-bot/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisClientFrom(rdb, "subpay"), mr
}

func TestRedisSubscriptionCache(t *testing.T) {
	client, mr := newTestRedis(t)
	cache := NewRedisSubscriptionCache(client, 0)
	ctx := context.Background()

	_, err := cache.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrCacheMiss)

	sub := &types.Subscription{ID: 7, UserID: 42, Status: types.SubscriptionActive, AmountPaid: decimal.RequireFromString("10.50"), EndDate: day20}
	require.NoError(t, cache.Set(ctx, 42, sub))
	assert.True(t, mr.Exists("subpay:sub:42"))
	assert.Equal(t, defaultSubscriptionCacheTTL, mr.TTL("subpay:sub:42"))

	got, err := cache.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.True(t, got.EndDate.Equal(day20))
	assert.Equal(t, "10.5", got.AmountPaid.String())

	require.NoError(t, cache.Invalidate(ctx, 42))
	_, err = cache.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisRateLimiter(t *testing.T) {
	client, mr := newTestRedis(t)
	limiter := NewRedisRateLimiter(client, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(ctx, 42, "command"), "call %d", i+1)
	}
	assert.False(t, limiter.Allow(ctx, 42, "command"))
	assert.True(t, limiter.Allow(ctx, 43, "command"), "limits are per user")

	mr.FastForward(time.Minute + time.Second)
	assert.True(t, limiter.Allow(ctx, 42, "command"), "window resets")
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	client, mr := newTestRedis(t)
	limiter := NewRedisRateLimiter(client, 1, time.Minute)
	mr.Close()

	assert.True(t, limiter.Allow(context.Background(), 42, "command"))
	assert.True(t, limiter.Allow(context.Background(), 42, "command"))

	var nilLimiter *RedisRateLimiter
	assert.True(t, nilLimiter.Allow(context.Background(), 42, "command"))
}

func TestRedisMarkerStore(t *testing.T) {
	client, mr := newTestRedis(t)
	markers := NewRedisMarkerStore(client)
	ctx := context.Background()

	seen, err := markers.Seen(ctx, "inv_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, markers.Mark(ctx, "inv_1", 24*time.Hour))
	require.NoError(t, markers.Mark(ctx, "inv_1", 24*time.Hour))
	seen, err = markers.Seen(ctx, "inv_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, 24*time.Hour, mr.TTL("subpay:webhook:processed:inv_1"))

	mr.FastForward(24*time.Hour + time.Second)
	seen, err = markers.Seen(ctx, "inv_1")
	require.NoError(t, err)
	assert.False(t, seen)
}
