package poscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis instance. One key per vehicle with a
// server-side expiry, so a crashed pipeline never leaves stale positions
// behind.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func positionKey(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s:pos", vehicleID)
}

func (s *RedisStore) Put(ctx context.Context, vehicleID string, pos Position, ttl time.Duration) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	if err := s.client.Set(ctx, positionKey(vehicleID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set position: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, vehicleID string) (Position, error) {
	val, err := s.client.Get(ctx, positionKey(vehicleID)).Bytes()
	if err == redis.Nil {
		return Position{}, ErrMiss
	}
	if err != nil {
		return Position{}, fmt.Errorf("redis get position: %w", err)
	}

	var pos Position
	if err := json.Unmarshal(val, &pos); err != nil {
		return Position{}, fmt.Errorf("unmarshal position: %w", err)
	}
	return pos, nil
}

func (s *RedisStore) Invalidate(ctx context.Context, vehicleID string) error {
	if err := s.client.Del(ctx, positionKey(vehicleID)).Err(); err != nil {
		return fmt.Errorf("redis del position: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
