// Package ratelimit implements a per-key token bucket limiter used to cap
// task submissions per task type. Keys get independent buckets, so a burst
// of one task type cannot exhaust another's quota.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/jkaninda/hive/internal/domain"
)

// ErrRateLimited is returned when a key has exhausted its bucket.
// It matches domain.ErrBudgetExceeded.
var ErrRateLimited = fmt.Errorf("rate limit exceeded: %w", domain.ErrBudgetExceeded)

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int            // Tokens added per minute. 0 = unlimited.
	BurstSize         int            // Maximum tokens in a bucket. 0 = RequestsPerMinute.
	PerKey            map[string]int // Per-key RequestsPerMinute overrides. 0 = unlimited for that key.
}

// Limiter hands out one token bucket per key. Safe for concurrent use.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter creates a limiter. With RequestsPerMinute 0 and no per-key
// overrides Allow always succeeds.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

func (l *Limiter) perMinute(key string) int {
	if v, ok := l.cfg.PerKey[key]; ok {
		return v
	}
	return l.cfg.RequestsPerMinute
}

func (l *Limiter) burst(perMinute int) int {
	if l.cfg.BurstSize > 0 {
		return l.cfg.BurstSize
	}
	if perMinute > 0 {
		return perMinute
	}
	return 1
}

// Allow consumes one token for key. Returns ErrRateLimited if the bucket is empty.
func (l *Limiter) Allow(key string) error {
	perMinute := l.perMinute(key)
	if perMinute <= 0 {
		return nil
	}

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), l.burst(perMinute))
		l.buckets[key] = b
	}
	l.mu.Unlock()

	if !b.Allow() {
		return fmt.Errorf("%q: %w", key, ErrRateLimited)
	}
	return nil
}

// Reset drops the bucket for key; the next Allow starts with a full bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// IsRateLimited reports whether err came from the limiter.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
