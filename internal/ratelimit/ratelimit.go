// Package ratelimit implements a fixed-window request limiter backed by
// Redis INCR/EXPIRE, replacing the teacher's hand-rolled RESP-over-TCP rate
// limiter (internal/server/redis_store.go) with the real go-redis/v9 client
// used elsewhere in the retrieval pack.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Limiter caps the number of events a key may record within Window.
type Limiter struct {
	redis  goredis.UniversalClient
	limit  int64
	window time.Duration
}

// New builds a Limiter allowing up to limit events per window, per key.
func New(redisClient goredis.UniversalClient, limit int64, window time.Duration) *Limiter {
	return &Limiter{redis: redisClient, limit: limit, window: window}
}

// Allow increments the counter for key and reports whether the caller is
// still under the limit for the current window. The first increment in a
// window also sets the window's expiry.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := "farmhand:ratelimit:" + key
	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("set rate limit window: %w", err)
		}
	}
	return count <= l.limit, nil
}
