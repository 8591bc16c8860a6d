package approvals

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "exec-approvals.json"))
}

func TestLoad_InitializesMissingFile(t *testing.T) {
	s := newTestStore(t)
	f, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.Version != 1 {
		t.Errorf("version: %d", f.Version)
	}
	if len(f.Socket.Token) != 48 { // 24 bytes hex
		t.Errorf("token length: %d", len(f.Socket.Token))
	}
	if f.Socket.Path == "" {
		t.Error("socket path should be set")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o600 {
		t.Errorf("permissions: %v", info.Mode().Perm())
	}

	// Token is stable across loads.
	f2, _ := s.Load()
	if f2.Socket.Token != f.Socket.Token {
		t.Error("token should persist")
	}
}

func TestResolve_HardcodedFloor(t *testing.T) {
	s := newTestStore(t)
	r, err := s.Resolve("main", Defaults{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Security != SecurityDeny || r.Ask != AskOnMiss || r.AskFallback != SecurityDeny || r.AutoAllowSkills {
		t.Errorf("hardcoded defaults wrong: %+v", r)
	}
}

func TestResolve_OverridePrecedence(t *testing.T) {
	s := newTestStore(t)
	err := s.update(func(f *File) error {
		f.Defaults.Security = SecurityFull
		f.Agents["main"] = &AgentApprovals{Defaults: Defaults{Ask: AskAlways}}
		f.Agents[WildcardAgent] = &AgentApprovals{Defaults: Defaults{AskFallback: SecurityAllowlist}}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Resolve("main", Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Security != SecurityFull {
		t.Errorf("file default should win over hardcoded: %q", r.Security)
	}
	if r.Ask != AskAlways {
		t.Errorf("agent scalar should win: %q", r.Ask)
	}
	if r.AskFallback != SecurityAllowlist {
		t.Errorf("wildcard scalar should fill agent gap: %q", r.AskFallback)
	}

	// Caller overrides fill where the file is silent and lose where it
	// is not.
	r, _ = s.Resolve("other", Defaults{Security: SecurityAllowlist, Ask: AskOff})
	if r.Security != SecurityFull {
		t.Errorf("file default beats override: %q", r.Security)
	}
	if r.Ask != AskOff {
		t.Errorf("override should fill unset ask: %q", r.Ask)
	}
}

func TestResolve_WildcardAllowlistPrepended(t *testing.T) {
	s := newTestStore(t)
	err := s.update(func(f *File) error {
		f.Agents[WildcardAgent] = &AgentApprovals{Allowlist: []AllowlistEntry{{Pattern: "/bin/hostname"}}}
		f.Agents["main"] = &AgentApprovals{Allowlist: []AllowlistEntry{{Pattern: "/usr/bin/uname"}}}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Resolve("main", Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Allowlist) != 2 {
		t.Fatalf("allowlist length: %d", len(r.Allowlist))
	}
	if r.Allowlist[0].Pattern != "/bin/hostname" || r.Allowlist[1].Pattern != "/usr/bin/uname" {
		t.Errorf("order wrong: %+v", r.Allowlist)
	}
}

func TestAddAllowlistEntry_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddAllowlistEntry("main", "/usr/bin/git"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAllowlistEntry("main", "/usr/bin/git"); err != nil {
		t.Fatal(err)
	}

	f, _ := s.Load()
	if n := len(f.Agents["main"].Allowlist); n != 1 {
		t.Errorf("duplicate pattern added: %d entries", n)
	}
}

func TestRecordAllowlistUse(t *testing.T) {
	s := newTestStore(t)
	s.AddAllowlistEntry("main", "rg")
	if err := s.RecordAllowlistUse("main", "rg", "rg -n foo", "/usr/bin/rg"); err != nil {
		t.Fatal(err)
	}

	f, _ := s.Load()
	e := f.Agents["main"].Allowlist[0]
	if e.LastUsedAt == 0 || e.LastUsedCommand != "rg -n foo" || e.LastResolvedPath != "/usr/bin/rg" {
		t.Errorf("use not recorded: %+v", e)
	}
}

func TestSocket_RoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix socket test")
	}
	dir := t.TempDir()
	sock := SocketInfo{Path: filepath.Join(dir, "ap.sock"), Token: "tok"}

	responder, err := ListenAndServe(sock, func(id string, req Request) string {
		if req.Command != "uname -a" {
			t.Errorf("command: %q", req.Command)
		}
		return DecisionAllowOnce
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer responder.Close()

	dec, err := RequestDecision(context.Background(), sock, "req-1", Request{
		Command:   "uname -a",
		AgentID:   "main",
		TimeoutMs: 2000,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if dec != DecisionAllowOnce {
		t.Errorf("decision: %q", dec)
	}
}

func TestSocket_BadTokenDropped(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix socket test")
	}
	dir := t.TempDir()
	sock := SocketInfo{Path: filepath.Join(dir, "ap.sock"), Token: "right"}

	responder, err := ListenAndServe(sock, func(string, Request) string { return DecisionAllowOnce })
	if err != nil {
		t.Fatal(err)
	}
	defer responder.Close()

	bad := SocketInfo{Path: sock.Path, Token: "wrong"}
	start := time.Now()
	dec, err := RequestDecision(context.Background(), bad, "req-2", Request{Command: "ls", TimeoutMs: 500})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if dec != "" {
		t.Errorf("expected null decision, got %q", dec)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("should fail fast on dropped connection")
	}
}

func TestSocket_TimeoutYieldsNullDecision(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix socket test")
	}
	dir := t.TempDir()
	// Nothing listening at all.
	sock := SocketInfo{Path: filepath.Join(dir, "nobody.sock"), Token: "tok"}
	dec, err := RequestDecision(context.Background(), sock, "req-3", Request{Command: "ls", TimeoutMs: 200})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if dec != "" {
		t.Errorf("expected null decision, got %q", dec)
	}
}
