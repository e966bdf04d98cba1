package provisional

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const holdKeyPrefix = "provisional:booking:"

// RedisStore keeps holds as JSON strings that expire with the payment
// session.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a hold store backed by Redis.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	if rdb == nil {
		panic("provisional: redis client required")
	}
	return &RedisStore{rdb: rdb}
}

func holdKey(orderID string) string {
	return holdKeyPrefix + orderID
}

// Put writes the hold, replacing any previous value under the same key.
func (s *RedisStore) Put(ctx context.Context, h *Hold, ttl time.Duration) error {
	if h == nil || h.OrderID == "" {
		return fmt.Errorf("provisional hold: order_id required")
	}
	if ttl <= 0 {
		return fmt.Errorf("provisional hold: ttl must be positive")
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("provisional hold: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, holdKey(h.OrderID), data, ttl).Err(); err != nil {
		return fmt.Errorf("provisional hold: set: %w", err)
	}
	return nil
}

// Get loads a hold. Missing or expired keys return ErrHoldNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (*Hold, error) {
	data, err := s.rdb.Get(ctx, holdKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrHoldNotFound
		}
		return nil, fmt.Errorf("provisional hold: get: %w", err)
	}
	var h Hold
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("provisional hold: unmarshal: %w", err)
	}
	return &h, nil
}

// Delete removes a hold. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, holdKey(key)).Err(); err != nil {
		return fmt.Errorf("provisional hold: delete: %w", err)
	}
	return nil
}
