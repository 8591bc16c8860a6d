package approvals

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Security levels for exec gating, ordered deny < allowlist < full.
const (
	SecurityDeny      = "deny"
	SecurityAllowlist = "allowlist"
	SecurityFull      = "full"
)

// Ask modes, ordered off < on-miss < always.
const (
	AskOff    = "off"
	AskOnMiss = "on-miss"
	AskAlways = "always"
)

// WildcardAgent merges into every agent: its allowlist is prepended and
// its scalar defaults fill gaps the specific agent leaves.
const WildcardAgent = "*"

// AllowlistEntry is one persisted pre-authorization pattern.
type AllowlistEntry struct {
	Pattern          string `json:"pattern"`
	LastUsedAt       int64  `json:"lastUsedAt,omitempty"` // unix ms
	LastUsedCommand  string `json:"lastUsedCommand,omitempty"`
	LastResolvedPath string `json:"lastResolvedPath,omitempty"`
}

// Defaults are the scalar approval knobs; empty string means unset.
type Defaults struct {
	Security        string `json:"security,omitempty"`
	Ask             string `json:"ask,omitempty"`
	AskFallback     string `json:"askFallback,omitempty"`
	AutoAllowSkills *bool  `json:"autoAllowSkills,omitempty"`
}

// AgentApprovals are the per-agent knobs plus the allowlist.
type AgentApprovals struct {
	Defaults
	Allowlist []AllowlistEntry `json:"allowlist,omitempty"`
}

// SocketInfo locates the approval socket and its shared token.
type SocketInfo struct {
	Path  string `json:"path"`
	Token string `json:"token"`
}

// File is the exec-approvals.json schema (version 1).
type File struct {
	Version  int                        `json:"version"`
	Socket   SocketInfo                 `json:"socket"`
	Defaults Defaults                   `json:"defaults"`
	Agents   map[string]*AgentApprovals `json:"agents"`
}

// Resolved is the effective approval policy for one agent.
type Resolved struct {
	Security        string
	Ask             string
	AskFallback     string
	AutoAllowSkills bool
	Allowlist       []AllowlistEntry
}

var storeLocks sync.Map // path → *sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := storeLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Store owns the approvals file. Readers reload from disk on every call.
type Store struct {
	path string
}

// NewStore creates a store over the given file path.
func NewStore(path string) *Store { return &Store{path: path} }

// DefaultPath returns <stateDir>/exec-approvals.json.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, "exec-approvals.json")
}

// Load reads the approvals file. When the file does not exist it is
// initialized with a fresh socket path and random token, written back
// with 0600 permissions.
func (s *Store) Load() (*File, error) {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*File, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		f := &File{
			Version: 1,
			Socket: SocketInfo{
				Path:  filepath.Join(filepath.Dir(s.path), "exec-approvals.sock"),
				Token: newToken(),
			},
			Agents: map[string]*AgentApprovals{},
		}
		if err := writeFileLocked(s.path, f); err != nil {
			return nil, err
		}
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read approvals: %w", err)
	}

	f := &File{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse approvals %s: %w", s.path, err)
	}
	if f.Agents == nil {
		f.Agents = map[string]*AgentApprovals{}
	}
	if f.Socket.Token == "" {
		f.Socket.Token = newToken()
		if f.Socket.Path == "" {
			f.Socket.Path = filepath.Join(filepath.Dir(s.path), "exec-approvals.sock")
		}
		if err := writeFileLocked(s.path, f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// newToken generates a 24-byte random token, hex encoded.
func newToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("approvals: token entropy: %v", err))
	}
	return hex.EncodeToString(buf)
}

func writeFileLocked(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create approvals dir: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode approvals: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write approvals: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace approvals: %w", err)
	}
	return nil
}

// update runs mutator under the path lock and persists the result.
func (s *Store) update(mutator func(*File) error) error {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()

	f, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := mutator(f); err != nil {
		return err
	}
	return writeFileLocked(s.path, f)
}

// mergeDefaults fills unset fields of base from next (left-biased).
func mergeDefaults(base, next Defaults) Defaults {
	if base.Security == "" {
		base.Security = next.Security
	}
	if base.Ask == "" {
		base.Ask = next.Ask
	}
	if base.AskFallback == "" {
		base.AskFallback = next.AskFallback
	}
	if base.AutoAllowSkills == nil {
		base.AutoAllowSkills = next.AutoAllowSkills
	}
	return base
}

// Resolve composes the effective policy for agentID:
//
//	defaults = file.defaults ⊕ overrides ⊕ hardcoded
//	agent    = agents[agentID] ⊕ agents["*"] ⊕ defaults
//	allowlist = agents["*"].allowlist ++ agents[agentID].allowlist
//
// where ⊕ is a left-biased merge and the hardcoded floor is
// security=deny, ask=on-miss, askFallback=deny, autoAllowSkills=false.
func (s *Store) Resolve(agentID string, overrides Defaults) (*Resolved, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	return resolveFrom(f, agentID, overrides), nil
}

func resolveFrom(f *File, agentID string, overrides Defaults) *Resolved {
	off := false
	hardcoded := Defaults{
		Security:        SecurityDeny,
		Ask:             AskOnMiss,
		AskFallback:     SecurityDeny,
		AutoAllowSkills: &off,
	}
	defaults := mergeDefaults(mergeDefaults(f.Defaults, overrides), hardcoded)

	var agentD, wildD Defaults
	var wildList, agentList []AllowlistEntry
	if a := f.Agents[agentID]; a != nil {
		agentD = a.Defaults
		agentList = a.Allowlist
	}
	if w := f.Agents[WildcardAgent]; w != nil {
		wildD = w.Defaults
		wildList = w.Allowlist
	}
	eff := mergeDefaults(mergeDefaults(agentD, wildD), defaults)

	allow := make([]AllowlistEntry, 0, len(wildList)+len(agentList))
	allow = append(allow, wildList...)
	allow = append(allow, agentList...)

	return &Resolved{
		Security:        eff.Security,
		Ask:             eff.Ask,
		AskFallback:     eff.AskFallback,
		AutoAllowSkills: eff.AutoAllowSkills != nil && *eff.AutoAllowSkills,
		Allowlist:       allow,
	}
}

// AddAllowlistEntry appends a pattern to the agent's allowlist. A no-op
// when the pattern is already present.
func (s *Store) AddAllowlistEntry(agentID, pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty allowlist pattern")
	}
	return s.update(func(f *File) error {
		a := f.Agents[agentID]
		if a == nil {
			a = &AgentApprovals{}
			f.Agents[agentID] = a
		}
		for _, e := range a.Allowlist {
			if e.Pattern == pattern {
				return nil
			}
		}
		a.Allowlist = append(a.Allowlist, AllowlistEntry{Pattern: pattern})
		return nil
	})
}

// RecordAllowlistUse stamps lastUsedAt/lastUsedCommand/lastResolvedPath on
// the matching entry, atomically.
func (s *Store) RecordAllowlistUse(agentID, pattern, command, resolvedPath string) error {
	now := time.Now().UnixMilli()
	return s.update(func(f *File) error {
		for _, id := range []string{agentID, WildcardAgent} {
			a := f.Agents[id]
			if a == nil {
				continue
			}
			for i := range a.Allowlist {
				if a.Allowlist[i].Pattern == pattern {
					a.Allowlist[i].LastUsedAt = now
					a.Allowlist[i].LastUsedCommand = command
					a.Allowlist[i].LastResolvedPath = resolvedPath
					return nil
				}
			}
		}
		return nil
	})
}
