package sessions

import (
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "sessions.json"), "main", "main")
}

func TestStore_GetOrCreateAndLookup(t *testing.T) {
	s := newTestStore(t)
	key := BuildSessionKey("main", "dm", ChatDirect, "+15551234")

	e, err := s.GetOrCreate(key, ChatDirect, func() string { return "sess-1" })
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.SessionID != "sess-1" {
		t.Errorf("session id: %q", e.SessionID)
	}

	got, err := s.Lookup(key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil || got.SessionID != "sess-1" {
		t.Fatalf("lookup returned %+v", got)
	}

	// Second create returns the existing entry.
	again, _ := s.GetOrCreate(key, ChatDirect, func() string { return "sess-2" })
	if again.SessionID != "sess-1" {
		t.Error("GetOrCreate should not replace an existing entry")
	}
}

func TestStore_LookupResolutionChain(t *testing.T) {
	s := newTestStore(t)

	// Stored under the default-agent-prefixed key; looked up by rest only.
	full := "agent:main:telegram:dm:42"
	if _, err := s.GetOrCreate(full, ChatDirect, func() string { return "a" }); err != nil {
		t.Fatal(err)
	}
	got, err := s.Lookup("telegram:dm:42")
	if err != nil || got == nil {
		t.Fatalf("prefixed resolution failed: %v %v", got, err)
	}

	// Alias spelling: stored as :direct:, looked up as :dm:.
	if _, err := s.GetOrCreate("agent:main:slack:direct:7", ChatDirect, func() string { return "b" }); err != nil {
		t.Fatal(err)
	}
	got, err = s.Lookup("slack:dm:7")
	if err != nil || got == nil || got.SessionID != "b" {
		t.Fatalf("alias resolution failed: %+v %v", got, err)
	}

	// Fallback to the agent main session.
	if _, err := s.GetOrCreate(BuildAgentMainSessionKey("main", "main"), ChatDirect, func() string { return "m" }); err != nil {
		t.Fatal(err)
	}
	got, err = s.Lookup("no:such:key")
	if err != nil || got == nil || got.SessionID != "m" {
		t.Fatalf("main fallback failed: %+v %v", got, err)
	}
}

func TestStore_LookupMissingIsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Lookup("nothing")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestEntry_ModelOverrideInvariants(t *testing.T) {
	e := &Entry{}
	e.SetModelOverride("anthropic", "claude-sonnet")
	e.AuthProfileOverride = "work"
	if e.ProviderOverride == "" || e.ModelOverride == "" {
		t.Fatal("overrides should be set together")
	}

	e.ResetModelOverride()
	if e.ProviderOverride != "" || e.ModelOverride != "" {
		t.Error("overrides should clear together")
	}
	if e.AuthProfileOverride != "" {
		t.Error("model reset must clear the auth-profile override")
	}
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := newTestStore(t)
	key := "agent:main:dm:1"
	if _, err := s.GetOrCreate(key, ChatDirect, func() string { return "x" }); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Mutate(key, func(e *Entry) { e.CompactionCount++ })
		}()
	}
	wg.Wait()

	got, _ := s.Lookup(key)
	if got.CompactionCount != 20 {
		t.Errorf("lost updates: count=%d", got.CompactionCount)
	}
}

func TestParseSessionKey(t *testing.T) {
	agent, rest := ParseSessionKey("agent:main:dm:+1555")
	if agent != "main" || rest != "dm:+1555" {
		t.Errorf("parse: %q %q", agent, rest)
	}
	if a, r := ParseSessionKey("not-a-key"); a != "" || r != "" {
		t.Error("non-canonical keys should parse to empty")
	}
}
