package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowScript string

// retryInterval is how long Wait sleeps between attempts.
const retryInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter as a sliding window over a Redis
// sorted set, updated atomically by a Lua script. The same limiter serves
// the venue guards and the HTTP middleware; callers pick the key.
type RateLimiter struct {
	rdb    *redis.Client
	window *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		window: redis.NewScript(slidingWindowScript),
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// Allow reports whether one more request under key fits inside the window.
// An allowed request is counted; a denied one is not.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rl.window.Run(ctx, rl.rdb,
		[]string{"ratelimit:" + key},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: limiter %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: limiter %s: script returned %d values, want 2", key, len(res))
	}

	return res[0] == 1, nil
}

// Wait blocks until a request under key is allowed at 1 request per second,
// sleeping between attempts. Callers that need other limits should loop
// over Allow themselves.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: wait for limiter %s: %w", key, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}
