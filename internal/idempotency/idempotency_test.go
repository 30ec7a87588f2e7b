package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeDurable struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDurable() *fakeDurable { return &fakeDurable{seen: make(map[string]bool)} }

func (f *fakeDurable) SeenIdempotencyKey(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func TestCheckerFallsThroughToDurableStoreWithoutRedis(t *testing.T) {
	store := newFakeDurable()
	c := New(nil, store, time.Minute)
	ctx := context.Background()

	dup, err := c.Seen(ctx, "sub-1:evt-1")
	if err != nil {
		t.Fatalf("first seen: %v", err)
	}
	if dup {
		t.Fatalf("expected first observation to not be a duplicate")
	}

	dup, err = c.Seen(ctx, "sub-1:evt-1")
	if err != nil {
		t.Fatalf("second seen: %v", err)
	}
	if !dup {
		t.Fatalf("expected second observation to be reported as a duplicate")
	}
}
