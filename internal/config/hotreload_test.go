package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawdbot.json5")
	if err := os.WriteFile(path, []byte(`{ gateway: { port: 18789 } }`), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) { reloaded <- cfg })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`{ gateway: { port: 19000 } }`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Gateway.Port != 19000 {
			t.Errorf("reloaded port = %d, want 19000", cfg.Gateway.Port)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestWatcherSurvivesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawdbot.json5")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) { reloaded <- cfg })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	// Editors save by writing a temp file and renaming it over the target.
	tmp := filepath.Join(dir, ".clawdbot.json5.tmp")
	if err := os.WriteFile(tmp, []byte(`{ gateway: { port: 20000 } }`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Gateway.Port != 20000 {
			t.Errorf("reloaded port = %d, want 20000", cfg.Gateway.Port)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after rename replace")
	}

	// A sibling file changing must not trigger a reload.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
		t.Error("unrelated file triggered a reload")
	case <-time.After(600 * time.Millisecond):
	}
}
