package limiter

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewTokenBucket(1, 2)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "u1"); !ok {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	ok, retry := l.Allow(ctx, "u1")
	if ok {
		t.Fatalf("third request must be throttled")
	}
	if retry <= 0 || retry > time.Second {
		t.Fatalf("retry-after want (0,1s], got %v", retry)
	}

	if ok, _ := l.Allow(ctx, "u2"); !ok {
		t.Fatalf("keys must have independent buckets")
	}

	now = now.Add(time.Second)
	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("token must refill after 1s")
	}
}

func TestTokenBucket_Sweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewTokenBucket(10, 10)
	l.now = func() time.Time { return now }

	l.Allow(context.Background(), "old")
	now = now.Add(10 * time.Minute)
	l.Allow(context.Background(), "fresh")

	if n := l.Sweep(); n != 1 {
		t.Fatalf("want 1 bucket after sweep, got %d", n)
	}
}
