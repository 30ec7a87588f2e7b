// Package idempotency provides a fast Redis-backed dedup cache in front of
// the durable Postgres idempotency_keys table. Redis gives a single-digit-
// millisecond check on the hot webhook/job path; Postgres is the fallback
// of record so a Redis flush cannot reintroduce a duplicate.
package idempotency

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// durable is the subset of storage.Repository this package needs, kept
// narrow so callers can pass the real repository without an import cycle.
type durable interface {
	SeenIdempotencyKey(ctx context.Context, key string) (firstSeen bool, err error)
}

// Checker deduplicates on an opaque key, e.g. "<subscription_id>:<event_id>".
type Checker struct {
	redis goredis.UniversalClient
	store durable
	ttl   time.Duration
}

const defaultTTL = 24 * time.Hour

// New builds a Checker. redisClient may be nil, in which case every check
// falls through to the durable store (correct but slower).
func New(redisClient goredis.UniversalClient, store durable, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Checker{redis: redisClient, store: store, ttl: ttl}
}

// Seen reports whether key has already been observed. On the first
// observation it records the key in both Redis (fast path) and the durable
// store, and returns false (not a duplicate). On a later observation it
// returns true without touching the durable store.
func (c *Checker) Seen(ctx context.Context, key string) (bool, error) {
	if c.redis != nil {
		set, err := c.redis.SetNX(ctx, redisKey(key), "1", c.ttl).Result()
		if err == nil {
			if !set {
				return true, nil
			}
			// First time in Redis; still confirm against the durable store
			// below so a key that expired out of Redis but is still on
			// record in Postgres is not treated as fresh.
		}
	}

	firstSeen, err := c.store.SeenIdempotencyKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check durable idempotency store: %w", err)
	}
	return !firstSeen, nil
}

func redisKey(key string) string {
	return "farmhand:idem:" + key
}
