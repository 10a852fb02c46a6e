package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitCounters is the fixed-window Redis INCR+EXPIRE counter pair
// behind rate limiting: a per-window request counter and a separate blocked
// counter that tracks exceedance across windows for brute-force
// escalation.
type RateLimitCounters struct {
	rdb *redis.Client
}

// NewRateLimitCounters creates a counter store over the given client.
func NewRateLimitCounters(rdb *redis.Client) *RateLimitCounters {
	return &RateLimitCounters{rdb: rdb}
}

func requestCounterKey(identity, path string, windowIndex int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", identity, path, windowIndex)
}

func blockedCounterKey(identity, path string) string {
	return fmt.Sprintf("ratelimit:blocked:%s:%s", identity, path)
}

// IncrementRequest increments the fixed-window counter for
// (identity, path, windowIndex), resetting its expiry to windowSeconds on
// every increment so the key auto-ages out.
func (c *RateLimitCounters) IncrementRequest(ctx context.Context, identity, path string, windowIndex int64, windowSeconds time.Duration) (int64, error) {
	key := requestCounterKey(identity, path, windowIndex)
	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, windowSeconds)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	return incr.Val(), nil
}

// IncrementBlocked increments the blocked-attempts counter for an
// identity+path, used to detect brute-force patterns across multiple
// windows.
// The counter itself ages out after the tracking horizon.
func (c *RateLimitCounters) IncrementBlocked(ctx context.Context, identity, path string, horizon time.Duration) (int64, error) {
	key := blockedCounterKey(identity, path)
	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, horizon)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing blocked counter: %w", err)
	}
	return incr.Val(), nil
}
