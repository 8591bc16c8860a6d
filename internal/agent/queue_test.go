package agent

import (
	"sync"
	"testing"
	"time"
)

func TestSessionQueue_DebounceCoalesces(t *testing.T) {
	var mu sync.Mutex
	var fired [][]queuedMessage

	var q *sessionQueue
	q = newSessionQueue(queuePolicy{DebounceMs: 30, Cap: 8, Drop: "oldest"}, func() {
		items, ok := q.drain()
		if ok {
			mu.Lock()
			fired = append(fired, items)
			mu.Unlock()
		}
		q.done()
	})

	q.push(queuedMessage{RunID: "r1", Content: "one"})
	q.push(queuedMessage{RunID: "r2", Content: "two"})
	q.push(queuedMessage{RunID: "r3", Content: "three"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(fired)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Fatalf("expected one coalesced turn, got %d", len(fired))
	}
	if len(fired[0]) != 3 {
		t.Fatalf("expected 3 coalesced messages, got %d", len(fired[0]))
	}
}

func TestSessionQueue_DropReject(t *testing.T) {
	q := newSessionQueue(queuePolicy{DebounceMs: 60_000, Cap: 2, Drop: "reject"}, func() {})
	if err := q.push(queuedMessage{Content: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := q.push(queuedMessage{Content: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := q.push(queuedMessage{Content: "c"}); err == nil {
		t.Fatal("expected reject error when full")
	}
	if q.depth() != 2 {
		t.Errorf("depth = %d, want 2", q.depth())
	}
}

func TestSessionQueue_DropOldest(t *testing.T) {
	q := newSessionQueue(queuePolicy{DebounceMs: 60_000, Cap: 2, Drop: "oldest"}, func() {})
	q.push(queuedMessage{Content: "a"})
	q.push(queuedMessage{Content: "b"})
	q.push(queuedMessage{Content: "c"})

	items, _ := q.drain()
	if len(items) != 2 || items[0].Content != "b" || items[1].Content != "c" {
		t.Errorf("drop=oldest kept %+v, want [b c]", items)
	}
}

func TestSessionQueue_DropNewest(t *testing.T) {
	q := newSessionQueue(queuePolicy{DebounceMs: 60_000, Cap: 2, Drop: "newest"}, func() {})
	q.push(queuedMessage{Content: "a"})
	q.push(queuedMessage{Content: "b"})
	if err := q.push(queuedMessage{Content: "c"}); err != nil {
		t.Fatalf("drop=newest should not error: %v", err)
	}

	items, _ := q.drain()
	if len(items) != 2 || items[1].Content != "b" {
		t.Errorf("drop=newest kept %+v, want [a b]", items)
	}
}

func TestSessionQueue_SingleFlight(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	var q *sessionQueue
	q = newSessionQueue(queuePolicy{DebounceMs: 0, Cap: 16, Drop: "oldest"}, func() {
		if _, ok := q.drain(); !ok {
			return
		}
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		q.done()
	})

	for i := 0; i < 6; i++ {
		q.push(queuedMessage{Content: "m"})
		time.Sleep(3 * time.Millisecond)
	}

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Errorf("max concurrent turns = %d, want 1", maxInFlight)
	}
}
