package store

import (
	"context"
	"time"
)

// RedisMarkerStore holds processed-notification markers for the idempotency ledger.
type RedisMarkerStore struct {
	client *RedisClient
}

func NewRedisMarkerStore(redisClient *RedisClient) *RedisMarkerStore {
	return &RedisMarkerStore{client: redisClient}
}

func (s *RedisMarkerStore) key(id string) string {
	return s.client.generateKey("webhook", "processed", id)
}

func (s *RedisMarkerStore) Seen(ctx context.Context, id string) (bool, error) {
	return s.client.Exists(ctx, s.key(id))
}

func (s *RedisMarkerStore) Mark(ctx context.Context, id string, ttl time.Duration) error {
	_, err := s.client.SetNX(ctx, s.key(id), "1", ttl)
	return err
}
