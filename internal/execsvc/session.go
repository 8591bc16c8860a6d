package execsvc

import (
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Output caps: aggregate output stops accruing at AggregateCap characters
// (the session is marked truncated), the sliding tail keeps the most
// recent TailCap characters, and exit notifications quote NotifyTailCap.
const (
	AggregateCap = 200_000
	TailCap      = 200_000
	NotifyTailCap = 400
)

// Session is the runtime state of one exec invocation.
type Session struct {
	ID         string
	Command    string
	ScopeKey   string
	SessionKey string
	PID        int
	StartedAt  time.Time
	Cwd        string

	mu               sync.Mutex
	tail             strings.Builder
	aggregated       strings.Builder
	totalOutputChars int
	pendingStdout    strings.Builder
	pendingStderr    strings.Builder
	truncated        bool

	exited     bool
	exitCode   int
	exitSignal string

	backgrounded bool
	notifyOnExit bool
	exitNotified bool
	timedOut     bool

	cmd      *exec.Cmd
	done     chan struct{}
	onUpdate func(*Session)
}

// Update is a point-in-time copy of the session's observable state.
type Update struct {
	ID               string
	Command          string
	SessionKey       string
	PID              int
	Tail             string
	Aggregated       string
	TotalOutputChars int
	PendingStdout    string
	PendingStderr    string
	Truncated        bool
	Exited           bool
	ExitCode         int
	ExitSignal       string
	Backgrounded     bool
}

func (s *Session) snapshotLocked() Update {
	return Update{
		ID:               s.ID,
		Command:          s.Command,
		SessionKey:       s.SessionKey,
		PID:              s.PID,
		Tail:             s.tail.String(),
		Aggregated:       s.aggregated.String(),
		TotalOutputChars: s.totalOutputChars,
		PendingStdout:    s.pendingStdout.String(),
		PendingStderr:    s.pendingStderr.String(),
		Truncated:        s.truncated,
		Exited:           s.exited,
		ExitCode:         s.exitCode,
		ExitSignal:       s.exitSignal,
		Backgrounded:     s.backgrounded,
	}
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// appendOutput records a chunk on the given stream and fires the
// incremental update callback. Chunks are delivered in spawn order: only
// the owning pump goroutines call this, one per stream.
func (s *Session) appendOutput(stderr bool, chunk string) {
	if chunk == "" {
		return
	}
	s.mu.Lock()
	if stderr {
		s.pendingStderr.WriteString(chunk)
	} else {
		s.pendingStdout.WriteString(chunk)
	}

	if s.totalOutputChars < AggregateCap {
		room := AggregateCap - s.totalOutputChars
		if len(chunk) > room {
			s.aggregated.WriteString(chunk[:room])
			s.truncated = true
		} else {
			s.aggregated.WriteString(chunk)
		}
	} else {
		s.truncated = true
	}
	s.totalOutputChars += len(chunk)

	s.tail.WriteString(chunk)
	if s.tail.Len() > TailCap {
		kept := s.tail.String()
		kept = kept[len(kept)-TailCap:]
		s.tail.Reset()
		s.tail.WriteString(kept)
	}
	cb := s.onUpdate
	s.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}

// DrainPending returns and clears the pending stdout/stderr buffers.
// Used by the process tool to poll a backgrounded session.
func (s *Session) DrainPending() (stdout, stderr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stdout = s.pendingStdout.String()
	stderr = s.pendingStderr.String()
	s.pendingStdout.Reset()
	s.pendingStderr.Reset()
	return stdout, stderr
}

// Backgrounded reports whether the invoking tool call already yielded.
func (s *Session) Backgrounded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backgrounded
}

// Exited reports terminal state and exit code.
func (s *Session) Exited() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited, s.exitCode
}

// NotifyTail returns the normalized tail used in exit notifications:
// whitespace runs collapsed, last NotifyTailCap characters.
func (s *Session) NotifyTail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := strings.Join(strings.Fields(s.tail.String()), " ")
	if len(t) > NotifyTailCap {
		t = t[len(t)-NotifyTailCap:]
	}
	return t
}

// Registry tracks live and recently exited exec sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get returns a session by id (full id or unique prefix).
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[id]; ok {
		return s, true
	}
	var hit *Session
	for key, s := range r.sessions {
		if strings.HasPrefix(key, id) {
			if hit != nil {
				return nil, false // ambiguous prefix
			}
			hit = s
		}
	}
	return hit, hit != nil
}

// List returns snapshots of all tracked sessions.
func (r *Registry) List() []Update {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Update, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Remove drops a session from the registry (after reap).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
