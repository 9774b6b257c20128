package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusCache is the order-status fast path in front of Postgres. Misses and
// redis errors both read as "not cached"; the DB stays the source of truth.
type StatusCache struct {
	R *redis.Client
}

func (c *StatusCache) Get(ctx context.Context, userID, orderID string) (string, bool) {
	s, err := c.R.Get(ctx, fmt.Sprintf(KeyOrderStatus, userID, orderID)).Result()
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

func (c *StatusCache) Set(ctx context.Context, userID, orderID, status string) {
	_ = c.R.Set(ctx, fmt.Sprintf(KeyOrderStatus, userID, orderID), status, TTLStatusCache).Err()
}
