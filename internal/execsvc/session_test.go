package execsvc

import (
	"strings"
	"testing"
)

func TestSession_OutputCapsAndTail(t *testing.T) {
	s := &Session{ID: "s1", done: make(chan struct{})}

	chunk := strings.Repeat("a", 90_000)
	s.appendOutput(false, chunk)
	s.appendOutput(false, chunk)
	if snap := s.Snapshot(); snap.Truncated {
		t.Error("under the cap, not truncated yet")
	}

	s.appendOutput(false, chunk)
	snap := s.Snapshot()
	if !snap.Truncated {
		t.Error("over the cap, should be truncated")
	}
	if len(snap.Aggregated) != AggregateCap {
		t.Errorf("aggregate should stop at cap: %d", len(snap.Aggregated))
	}
	if snap.TotalOutputChars != 270_000 {
		t.Errorf("total should keep counting: %d", snap.TotalOutputChars)
	}
	if len(snap.Tail) != TailCap {
		t.Errorf("tail should slide at cap: %d", len(snap.Tail))
	}
}

func TestSession_PendingDrain(t *testing.T) {
	s := &Session{ID: "s2", done: make(chan struct{})}
	s.appendOutput(false, "out1")
	s.appendOutput(true, "err1")

	stdout, stderr := s.DrainPending()
	if stdout != "out1" || stderr != "err1" {
		t.Errorf("drain: %q %q", stdout, stderr)
	}
	stdout, stderr = s.DrainPending()
	if stdout != "" || stderr != "" {
		t.Error("drain should clear pending buffers")
	}

	// Aggregate keeps everything drained from pending.
	if snap := s.Snapshot(); snap.Aggregated != "out1err1" {
		t.Errorf("aggregate: %q", snap.Aggregated)
	}
}

func TestSession_NotifyTail(t *testing.T) {
	s := &Session{ID: "s3", done: make(chan struct{})}
	s.appendOutput(false, "  hello\n\n  world\t!  ")
	if got := s.NotifyTail(); got != "hello world !" {
		t.Errorf("notify tail: %q", got)
	}

	s2 := &Session{ID: "s4", done: make(chan struct{})}
	s2.appendOutput(false, strings.Repeat("x", 1000))
	if got := s2.NotifyTail(); len(got) != NotifyTailCap {
		t.Errorf("notify tail should cap at %d: %d", NotifyTailCap, len(got))
	}
}

func TestRegistry_PrefixLookup(t *testing.T) {
	r := NewRegistry()
	r.add(&Session{ID: "abcdef12-3456", done: make(chan struct{})})
	r.add(&Session{ID: "zzzzzz99-0000", done: make(chan struct{})})

	if _, ok := r.Get("abcdef12"); !ok {
		t.Error("unique prefix should resolve")
	}
	if _, ok := r.Get("abcdef12-3456"); !ok {
		t.Error("full id should resolve")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("unknown id should not resolve")
	}

	r.add(&Session{ID: "abcdzzzz", done: make(chan struct{})})
	if _, ok := r.Get("abcd"); ok {
		t.Error("ambiguous prefix should not resolve")
	}

	r.Remove("zzzzzz99-0000")
	if len(r.List()) != 2 {
		t.Errorf("list after remove: %d", len(r.List()))
	}
}
