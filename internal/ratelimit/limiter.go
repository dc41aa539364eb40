// Package ratelimit provides per-key fixed-window limiting. knockd uses it to
// keep per-source log lines bounded when a sentinel port is being scanned.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/knockd/internal/clock"
)

// Limiter manages rate limiting for multiple keys
type Limiter struct {
	limit    int
	interval time.Duration
	clock    clock.Clock

	mu       sync.Mutex
	limiters map[string]*bucket
}

// bucket refills completely once interval has elapsed since the last refill.
type bucket struct {
	tokens   int
	lastFill time.Time
}

// NewLimiter creates a limiter allowing limit events per key per interval.
// A nil clock uses the system clock.
func NewLimiter(limit int, interval time.Duration, clk clock.Clock) *Limiter {
	return &Limiter{
		limit:    limit,
		interval: interval,
		clock:    clock.OrDefault(clk),
		limiters: make(map[string]*bucket),
	}
}

// Allow checks if an event for the given key is allowed and consumes a token.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, exists := l.limiters[key]
	if !exists {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.limiters[key] = b
	}

	if now.Sub(b.lastFill) >= l.interval {
		b.tokens = l.limit
		b.lastFill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Reset clears rate limit for a specific key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// CleanupExpired removes buckets that have not refilled within maxAge and
// returns how many were removed.
func (l *Limiter) CleanupExpired(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key, b := range l.limiters {
		if now.Sub(b.lastFill) > maxAge {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}
