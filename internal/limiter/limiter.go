// Package limiter throttles callers with per-key token buckets.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	// Allow reports whether a request is allowed now and, if not, when to retry.
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// TokenBucket keeps one rate.Limiter per key and forgets keys idle for longer than ttl.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	perSec  rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenBucket allows perSecond sustained requests with bursts up to burst for every key.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		buckets: make(map[string]*bucket),
		perSec:  rate.Limit(perSecond),
		burst:   burst,
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
}

// Allow takes one token from the key's bucket.
func (l *TokenBucket) Allow(_ context.Context, key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSec, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Sweep drops buckets idle for longer than the ttl and returns how many remain.
func (l *TokenBucket) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, k)
		}
	}
	return len(l.buckets)
}

// Run sweeps idle buckets every interval until ctx is done.
func (l *TokenBucket) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
