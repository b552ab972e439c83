// Package ratelimit throttles authentication attempts per client key.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller should wait before trying again.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts hits per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

func decide(count, limit int, resetAt time.Time) Decision {
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
}

// MemoryLimiter is a process-local fixed window limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewMemory(limit int, every time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 1
	}
	if every <= 0 {
		every = time.Minute
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  every,
		now:     time.Now,
		windows: make(map[string]window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) Decision {
	now := l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, k)
		}
	}
	w, ok := l.windows[key]
	if !ok {
		w = window{resetAt: now.Add(l.window)}
	}
	w.count++
	l.windows[key] = w
	return decide(w.count, l.limit, w.resetAt)
}
