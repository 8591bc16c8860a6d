package agent

import (
	"fmt"
	"sync"
	"time"
)

// queuedMessage is one submission waiting for a turn.
type queuedMessage struct {
	RunID      string
	Role       string // user | system
	Content    string
	EnqueuedAt time.Time
}

// queuePolicy are the resolved knobs for one session queue.
type queuePolicy struct {
	DebounceMs int
	Cap        int
	Drop       string // oldest | newest | reject
}

// sessionQueue buffers submissions for one session key. Back-to-back
// messages inside the debounce window coalesce into a single turn; the
// cap bounds outstanding messages per the drop policy.
type sessionQueue struct {
	mu       sync.Mutex
	items    []queuedMessage
	timer    *time.Timer
	running  bool
	policy   queuePolicy
	fire     func() // invoked (on a fresh goroutine) when a turn should start
}

func newSessionQueue(policy queuePolicy, fire func()) *sessionQueue {
	if policy.Cap <= 0 {
		policy.Cap = 16
	}
	if policy.Drop == "" {
		policy.Drop = "oldest"
	}
	return &sessionQueue{policy: policy, fire: fire}
}

// push enqueues a message, applying the drop policy when full, and
// schedules the debounce timer. Returns an error only for drop=reject.
func (q *sessionQueue) push(msg queuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.policy.Cap {
		switch q.policy.Drop {
		case "reject":
			return fmt.Errorf("session queue full (%d messages)", q.policy.Cap)
		case "newest":
			// Drop the incoming message.
			return nil
		default: // oldest
			q.items = q.items[1:]
		}
	}
	q.items = append(q.items, msg)
	q.scheduleLocked()
	return nil
}

// scheduleLocked arms the debounce timer. With no debounce the turn
// fires immediately (unless one is already running).
func (q *sessionQueue) scheduleLocked() {
	if q.running || len(q.items) == 0 {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	delay := time.Duration(q.policy.DebounceMs) * time.Millisecond
	q.timer = time.AfterFunc(delay, q.tryFire)
}

// tryFire starts a turn when none is in flight.
func (q *sessionQueue) tryFire() {
	q.mu.Lock()
	if q.running || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.fire()
}

// drain takes everything queued, coalescing bodies in arrival order.
// Called at turn start; the queue stays marked running.
func (q *sessionQueue) drain() ([]queuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.running = false
		return nil, false
	}
	items := q.items
	q.items = nil
	return items, true
}

// done marks the turn finished and re-arms when messages arrived while
// it ran. Only one turn is ever in flight per queue.
func (q *sessionQueue) done() {
	q.mu.Lock()
	q.running = false
	q.scheduleLocked()
	q.mu.Unlock()
}

// setPolicy applies patched session knobs to subsequent submissions.
func (q *sessionQueue) setPolicy(policy queuePolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if policy.Cap <= 0 {
		policy.Cap = q.policy.Cap
	}
	if policy.Drop == "" {
		policy.Drop = q.policy.Drop
	}
	q.policy = policy
}

func (q *sessionQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
