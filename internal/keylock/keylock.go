// Package keylock provides per-key mutual exclusion with FIFO hand-off, so that
// operations on the same key run in the order they asked for it.
package keylock

import (
	"context"
	"slices"
	"sync"
)

type entry struct {
	waiters []chan struct{}
}

// Locker serialises work per string key. The zero value is not usable; use New.
type Locker struct {
	mu   sync.Mutex
	held map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{held: make(map[string]*entry)}
}

// Lock blocks until key is owned by the caller or ctx is done.
// The returned func releases the key and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, busy := l.held[key]
	if !busy {
		l.held[key] = &entry{}
		l.mu.Unlock()
		return l.unlocker(key), nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return l.unlocker(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		if i := slices.Index(e.waiters, ch); i >= 0 {
			e.waiters = slices.Delete(e.waiters, i, i+1)
			l.mu.Unlock()
			return nil, ctx.Err()
		}
		l.mu.Unlock()
		// ownership was handed over concurrently with cancellation: pass it on.
		l.unlock(key)
		return nil, ctx.Err()
	}
}

// Acquire locks every distinct key in sorted order, so concurrent callers sharing
// keys can never wait on each other in a cycle.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, k := range sorted {
		rel, err := l.Lock(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releaseAll, nil
}

// Len reports how many keys are currently held.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

func (l *Locker) unlocker(key string) func() {
	var once sync.Once
	return func() { once.Do(func() { l.unlock(key) }) }
}

func (l *Locker) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.held[key]
	if !ok {
		return
	}
	if len(e.waiters) == 0 {
		delete(l.held, key)
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	close(next)
}
