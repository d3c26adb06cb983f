// Package ratelimit implements per-workspace submission rate limiting.
//
// The limit is a rolling window, not a calendar bucket: a submission is
// admitted only if fewer than the configured maximum were admitted in the
// window ending now. Rejected submissions do not consume budget.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults for job submission limiting.
const (
	DefaultLimit  = 10
	DefaultWindow = 60 * time.Second
)

// Limiter tracks submission timestamps per key over a rolling window.
// Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter admitting at most limit hits per window per key.
// Non-positive arguments fall back to the defaults.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a submission for key is admitted, and records it if
// so. A rejected call leaves the window untouched.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now)
	if len(recent) >= l.limit {
		return false
	}

	l.hits[key] = append(recent, now)
	return true
}

// Remaining returns how many submissions the key has left in the current
// window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(key, l.now())
	if len(recent) >= l.limit {
		return 0
	}
	return l.limit - len(recent)
}

// prune drops hits older than the window and stores the survivors back.
// Caller must hold the mutex.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	hits := l.hits[key]

	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) == 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = kept
	return kept
}
