package store

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// RedisRateLimiter is a fixed-window counter per user and action.
type RedisRateLimiter struct {
	client *RedisClient
	limit  int64
	window time.Duration
}

func NewRedisRateLimiter(redisClient *RedisClient, limit int, window time.Duration) *RedisRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		limit = 10
	}
	return &RedisRateLimiter{client: redisClient, limit: int64(limit), window: window}
}

// Allow fails open: without Redis, or when Redis errors, the call is allowed.
func (l *RedisRateLimiter) Allow(ctx context.Context, userID int64, action string) bool {
	if l == nil || l.client == nil {
		return true
	}
	key := l.client.generateKey("ratelimit", action, strconv.FormatInt(userID, 10))
	n, err := l.client.IncrWindow(ctx, key, l.window)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Str("action", action).Msg("rate limiter unavailable")
		return true
	}
	return n <= l.limit
}
