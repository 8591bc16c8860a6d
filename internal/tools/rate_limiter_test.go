package tools

import (
	"testing"
	"time"
)

func shortWindowLimiter(limit int, window time.Duration) *ToolRateLimiter {
	return &ToolRateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

func TestToolRateLimiterDisabled(t *testing.T) {
	for _, n := range []int{0, -5} {
		if rl := NewToolRateLimiter(n); rl != nil {
			t.Errorf("NewToolRateLimiter(%d) = %v, want nil", n, rl)
		}
	}
}

func TestToolRateLimiterBudget(t *testing.T) {
	rl := NewToolRateLimiter(3)
	for i := 0; i < 3; i++ {
		if err := rl.Allow("user1"); err != nil {
			t.Fatalf("action %d within budget denied: %v", i, err)
		}
	}
	if rl.Allow("user1") == nil {
		t.Error("action beyond budget allowed")
	}
	if err := rl.Allow("user2"); err != nil {
		t.Errorf("user2 charged against user1's budget: %v", err)
	}
}

func TestToolRateLimiterWindowSlides(t *testing.T) {
	rl := shortWindowLimiter(2, 100*time.Millisecond)

	rl.Allow("key1")
	rl.Allow("key1")
	if rl.Allow("key1") == nil {
		t.Error("full window allowed another action")
	}

	time.Sleep(150 * time.Millisecond)
	if err := rl.Allow("key1"); err != nil {
		t.Errorf("denied after the window slid past old entries: %v", err)
	}
}

func TestToolRateLimiterCleanup(t *testing.T) {
	rl := shortWindowLimiter(10, 50*time.Millisecond)
	rl.Allow("key1")
	rl.Allow("key2")

	time.Sleep(100 * time.Millisecond)
	rl.Cleanup()

	rl.mu.Lock()
	remaining := len(rl.hits)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d keys survived cleanup of an aged-out window", remaining)
	}
}

func TestToolRateLimiterCleanupKeepsFreshEntries(t *testing.T) {
	rl := shortWindowLimiter(10, 200*time.Millisecond)

	rl.Allow("key1") // ages out below
	time.Sleep(100 * time.Millisecond)
	rl.Allow("key1") // still inside the window at cleanup time

	time.Sleep(150 * time.Millisecond)
	rl.Cleanup()

	rl.mu.Lock()
	entries := len(rl.hits["key1"])
	rl.mu.Unlock()
	if entries != 1 {
		t.Errorf("got %d entries after partial cleanup, want 1", entries)
	}
}
