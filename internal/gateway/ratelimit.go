package gateway

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

// RateLimiter applies a token bucket per key (user or remote IP).
// Buckets for keys not seen in a while are swept to bound memory.
type RateLimiter struct {
	refill rate.Limit // tokens per second, 0 disables the limiter
	burst  int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter from a requests-per-minute budget.
// rpm <= 0 disables limiting entirely.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	rl := &RateLimiter{burst: burst, buckets: make(map[string]*bucket)}
	if rpm > 0 {
		rl.refill = rate.Limit(float64(rpm) / 60.0)
	}
	go rl.sweepLoop()
	return rl
}

// Enabled reports whether limiting is active.
func (rl *RateLimiter) Enabled() bool { return rl.refill > 0 }

// Allow consumes one token for key. A false return means the caller
// should reject the request.
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.refill, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()

	if !b.lim.Allow() {
		slog.Warn("security.rate_limited", "key", key)
		return false
	}
	return true
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for range ticker.C {
		rl.sweep(time.Now().Add(-limiterIdleAfter))
	}
}

func (rl *RateLimiter) sweep(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}
