package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one persisted session record.
type Entry struct {
	SessionID string   `json:"sessionId"`
	ChatType  ChatType `json:"chatType,omitempty"`

	// Provider/model overrides are set and cleared together.
	ProviderOverride    string `json:"providerOverride,omitempty"`
	ModelOverride       string `json:"modelOverride,omitempty"`
	AuthProfileOverride string `json:"authProfileOverride,omitempty"`
	AuthProfileSource   string `json:"authProfileSource,omitempty"`
	CompactionCount     int    `json:"compactionCount,omitempty"`

	GroupActivation string `json:"groupActivation,omitempty"` // mention | any | off

	QueueDebounceMs *int    `json:"queueDebounceMs,omitempty"`
	QueueCap        *int    `json:"queueCap,omitempty"`
	QueueDrop       *string `json:"queueDrop,omitempty"`

	LastChannel string `json:"lastChannel,omitempty"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"` // unix ms
}

// SetModelOverride sets provider and model together.
func (e *Entry) SetModelOverride(provider, model string) {
	e.ProviderOverride = provider
	e.ModelOverride = model
}

// ResetModelOverride clears provider and model together; resetting the
// model always clears the auth-profile override as well.
func (e *Entry) ResetModelOverride() {
	e.ProviderOverride = ""
	e.ModelOverride = ""
	e.AuthProfileOverride = ""
	e.AuthProfileSource = ""
}

// storeFile is the on-disk shape: session key → entry.
type storeFile struct {
	Sessions map[string]*Entry `json:"sessions"`
}

// pathLocks serializes read-modify-write cycles per store path.
var pathLocks sync.Map // path → *sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Store is the per-agent session store. Reads always reload from disk;
// there is no in-memory copy promoted to source of truth.
type Store struct {
	path         string
	defaultAgent string
	mainKey      string
}

// NewStore creates a session store over the given JSON file.
func NewStore(path, defaultAgent, mainKey string) *Store {
	return &Store{path: path, defaultAgent: defaultAgent, mainKey: mainKey}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) read() (*storeFile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &storeFile{Sessions: map[string]*Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session store: %w", err)
	}
	sf := &storeFile{}
	if err := json.Unmarshal(data, sf); err != nil {
		return nil, fmt.Errorf("parse session store %s: %w", s.path, err)
	}
	if sf.Sessions == nil {
		sf.Sessions = map[string]*Entry{}
	}
	return sf, nil
}

// Update runs mutator against the current file contents and writes the
// result atomically (temp file + rename) under the per-path mutex.
func (s *Store) Update(mutator func(sessions map[string]*Entry) error) error {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()

	sf, err := s.read()
	if err != nil {
		return err
	}
	if err := mutator(sf.Sessions); err != nil {
		return err
	}
	return writeAtomic(s.path, sf)
}

func writeAtomic(path string, sf *storeFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session store: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session store: %w", err)
	}
	return nil
}

// Lookup resolves key against the store using the resolution chain:
// the key itself, the key prefixed with the default agent, the alias
// spelling of that, and finally the agent's main session. Returns nil
// when nothing matches.
func (s *Store) Lookup(key string) (*Entry, error) {
	sf, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, candidate := range s.candidates(key) {
		if e, ok := sf.Sessions[candidate]; ok {
			return e, nil
		}
	}
	return nil, nil
}

func (s *Store) candidates(key string) []string {
	prefixed := fmt.Sprintf("agent:%s:%s", s.defaultAgent, key)
	return []string{
		key,
		prefixed,
		AliasKey(prefixed),
		BuildAgentMainSessionKey(s.defaultAgent, s.mainKey),
	}
}

// GetOrCreate returns the entry for key, creating it lazily on first use.
// newID supplies the opaque session id for a fresh entry.
func (s *Store) GetOrCreate(key string, chatType ChatType, newID func() string) (*Entry, error) {
	var out *Entry
	err := s.Update(func(sessions map[string]*Entry) error {
		if e, ok := sessions[key]; ok {
			out = e
			return nil
		}
		e := &Entry{
			SessionID: newID(),
			ChatType:  chatType,
			UpdatedAt: time.Now().UnixMilli(),
		}
		sessions[key] = e
		out = e
		return nil
	})
	return out, err
}

// Mutate applies fn to the entry for key (creating nothing); no-op when
// the key does not resolve directly.
func (s *Store) Mutate(key string, fn func(*Entry)) error {
	return s.Update(func(sessions map[string]*Entry) error {
		if e, ok := sessions[key]; ok {
			fn(e)
			e.UpdatedAt = time.Now().UnixMilli()
		}
		return nil
	})
}

// Delete removes a session entry (explicit reset is the only destroy path).
func (s *Store) Delete(key string) error {
	return s.Update(func(sessions map[string]*Entry) error {
		delete(sessions, key)
		return nil
	})
}

// List returns a copy of all entries keyed by session key.
func (s *Store) List() (map[string]Entry, error) {
	sf, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(sf.Sessions))
	for k, e := range sf.Sessions {
		out[k] = *e
	}
	return out, nil
}
