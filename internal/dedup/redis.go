package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL bounds how long a processed key is remembered. Matches the
// in-memory sweep horizon: long enough to cover provider retry windows.
const DefaultRedisTTL = time.Hour

const redisKeyPrefix = "subsync:dedup:"

// Redis is a Deduper backed by Redis SET NX, safe across multiple service
// instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed deduper. A non-positive ttl falls back to
// DefaultRedisTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// MarkProcessed implements Deduper. SET NX makes the check-and-set atomic on
// the Redis side; the first caller to set the key wins.
func (r *Redis) MarkProcessed(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}
