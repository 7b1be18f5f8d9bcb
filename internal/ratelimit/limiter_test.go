package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis instance and clears leftover test
// counters. Skips when Redis is unreachable.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		iter := client.Scan(ctx, 0, "rl:*:test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_WithinLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 3, Window: 10 * time.Second}

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "test_within", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "test_within", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Error("fourth request should be rate limited")
	}
}

func TestAllow_IndependentIdentifiers(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 1, Window: 10 * time.Second}

	if allowed, _ := limiter.Allow(ctx, "test_indep_a", rule); !allowed {
		t.Fatal("first identifier should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "test_indep_b", rule); !allowed {
		t.Error("second identifier should have its own counter")
	}
}

func TestRemaining(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:hist:", Limit: 5, Window: time.Minute}

	remaining, err := limiter.Remaining(ctx, "test_remaining", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 5 {
		t.Errorf("expected full limit before any request, got %d", remaining)
	}

	limiter.Allow(ctx, "test_remaining", rule)
	limiter.Allow(ctx, "test_remaining", rule)

	remaining, err = limiter.Remaining(ctx, "test_remaining", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 3 {
		t.Errorf("expected 3 remaining after 2 requests, got %d", remaining)
	}
}
