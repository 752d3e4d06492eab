package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTL keeps yesterday's counter around briefly for inspection, then lets
// Redis reclaim it. Rollover itself needs no reset step: the UTC day is part
// of the key, so a new day reads an absent key as zero usage.
const keyTTL = 48 * time.Hour

// RedisStore implements Store on a shared Redis instance, for deployments
// running more than one gateway replica. INCRBYFLOAT makes the settlement
// read-modify-write atomic without client-side locking.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed quota store from a redis:// URL.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("quota: parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("quota: ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(userID, agentID, day string) string {
	return fmt.Sprintf("koe:quota:%s:%s:%s", userID, agentID, day)
}

// CheckAdmission implements Store.
func (s *RedisStore) CheckAdmission(ctx context.Context, userID, agentID string, limitSeconds, estimatedSeconds float64) (Admission, error) {
	key := redisKey(userID, agentID, dayStamp(time.Now()))

	used, err := s.client.Get(ctx, key).Float64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Admission{}, fmt.Errorf("quota: read %s: %w", key, err)
	}
	return admit(used, limitSeconds, estimatedSeconds), nil
}

// Settle implements Store.
func (s *RedisStore) Settle(ctx context.Context, userID, agentID string, actualSeconds float64) error {
	key := redisKey(userID, agentID, dayStamp(time.Now()))

	pipe := s.client.TxPipeline()
	pipe.IncrByFloat(ctx, key, actualSeconds)
	pipe.Expire(ctx, key, keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("quota: settle %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
