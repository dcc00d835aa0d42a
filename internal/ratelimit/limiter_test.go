package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tests require a local Redis instance and are skipped when one is not
// available. Test keys use the "rl:test:" prefix and are removed on cleanup.

var testRule = Rule{Key: "rl:test:", Limit: 3, Window: time.Second}

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, client)
		client.Close()
	})

	return NewLimiter(client)
}

func cleanupTestKeys(t *testing.T, client *redis.Client) {
	t.Helper()
	ctx := context.Background()
	iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		t.Errorf("cleanup scan: %v", err)
	}
}

func TestAllowWithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < testRule.Limit; i++ {
		ok, err := l.Allow(ctx, "user_a", testRule)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}
}

func TestAllowBlocksOverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < testRule.Limit; i++ {
		l.Allow(ctx, "user_b", testRule)
	}

	ok, err := l.Allow(ctx, "user_b", testRule)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Error("expected request over the limit to be blocked")
	}
}

func TestWindowResets(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i <= testRule.Limit; i++ {
		l.Allow(ctx, "user_c", testRule)
	}

	time.Sleep(testRule.Window + 100*time.Millisecond)

	ok, err := l.Allow(ctx, "user_c", testRule)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !ok {
		t.Error("expected request after window expiry to be allowed")
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i <= testRule.Limit; i++ {
		l.Allow(ctx, "user_d", testRule)
	}

	ok, err := l.Allow(ctx, "user_e", testRule)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !ok {
		t.Error("expected a different identifier to have its own window")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	remaining, err := l.Remaining(ctx, "user_f", testRule)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != testRule.Limit {
		t.Errorf("expected full limit %d for unseen identifier, got %d", testRule.Limit, remaining)
	}

	l.Allow(ctx, "user_f", testRule)
	l.Allow(ctx, "user_f", testRule)

	remaining, err = l.Remaining(ctx, "user_f", testRule)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != testRule.Limit-2 {
		t.Errorf("expected %d remaining, got %d", testRule.Limit-2, remaining)
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < testRule.Limit+3; i++ {
		l.Allow(ctx, "user_g", testRule)
	}

	remaining, err := l.Remaining(ctx, "user_g", testRule)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining when over limit, got %d", remaining)
	}
}

func TestRetryAfter(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if d := l.RetryAfter(ctx, "user_h", testRule); d != 0 {
		t.Errorf("expected zero retry-after for unseen identifier, got %v", d)
	}

	l.Allow(ctx, "user_h", testRule)

	d := l.RetryAfter(ctx, "user_h", testRule)
	if d <= 0 || d > testRule.Window {
		t.Errorf("expected retry-after within (0, %v], got %v", testRule.Window, d)
	}
}
