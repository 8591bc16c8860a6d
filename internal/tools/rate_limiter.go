package tools

import (
	"fmt"
	"sync"
	"time"
)

// ToolRateLimiter caps tool executions per key over a sliding one-hour
// window. Keys are session keys, so a runaway session cannot starve the
// rest of the gateway.
type ToolRateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
}

// NewToolRateLimiter returns a limiter allowing maxPerHour executions per
// key, or nil (no limiting) when maxPerHour is zero or negative.
func NewToolRateLimiter(maxPerHour int) *ToolRateLimiter {
	if maxPerHour <= 0 {
		return nil
	}
	return &ToolRateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  maxPerHour,
		window: time.Hour,
	}
}

// Allow records one execution for key, or returns an error when the
// window is already full.
func (rl *ToolRateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := pruneBefore(rl.hits[key], now.Add(-rl.window))
	if len(recent) >= rl.limit {
		return fmt.Errorf("tool rate limit exceeded: %d actions/hour for key %s", rl.limit, key)
	}
	rl.hits[key] = append(recent, now)
	return nil
}

// Cleanup drops keys whose entries have all aged out. Call periodically
// to bound memory.
func (rl *ToolRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)
	for key, entries := range rl.hits {
		recent := pruneBefore(entries, cutoff)
		if len(recent) == 0 {
			delete(rl.hits, key)
		} else {
			rl.hits[key] = recent
		}
	}
}

// pruneBefore drops leading timestamps older than cutoff. Entries are
// append-ordered, so the suffix is the live window.
func pruneBefore(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && entries[i].Before(cutoff) {
		i++
	}
	return entries[i:]
}
