package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultAvailabilityTTL keeps the advisory read-check close to the
// authoritative value; order commits also invalidate touched keys.
const DefaultAvailabilityTTL = 30 * time.Second

func InitRedis(ctx context.Context, addr string, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", addr))
	return rdb, nil
}

// AvailabilityCache stores product availability counts under
// product:<id>:availability.
type AvailabilityCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewAvailabilityCache(rdb redis.Cmdable, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = DefaultAvailabilityTTL
	}
	return &AvailabilityCache{rdb: rdb, ttl: ttl}
}

func availabilityKey(productID string) string {
	return fmt.Sprintf("product:%s:availability", productID)
}

func (c *AvailabilityCache) GetAvailability(ctx context.Context, productID string) (int, bool, error) {
	v, err := c.rdb.Get(ctx, availabilityKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("bad cached availability %q: %w", v, err)
	}
	return n, true, nil
}

func (c *AvailabilityCache) SetAvailability(ctx context.Context, productID string, n int) error {
	return c.rdb.Set(ctx, availabilityKey(productID), n, c.ttl).Err()
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = availabilityKey(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
