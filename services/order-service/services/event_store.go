package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessedEventStore remembers which processor events were handled so
// redeliveries can be acknowledged without reprocessing.
type ProcessedEventStore interface {
	// Reserve claims eventID. It returns false if the event was already
	// claimed.
	Reserve(ctx context.Context, eventID string) (bool, error)
	// Release drops a claim so a redelivery is processed again.
	Release(ctx context.Context, eventID string) error
}

type RedisEventStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisEventStore(client *redis.Client, ttl time.Duration) *RedisEventStore {
	return &RedisEventStore{client: client, prefix: "webhook:event:", ttl: ttl}
}

func (s *RedisEventStore) Reserve(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+eventID, time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve event %s: %w", eventID, err)
	}
	return ok, nil
}

func (s *RedisEventStore) Release(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.prefix+eventID).Err(); err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}
