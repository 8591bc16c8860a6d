package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clawdbot.json5")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{
		// local-only gateway
		gateway: { token: "secret" },
		agents: { main: { model: "claude-sonnet" } },
		routing: { defaultAgent: "main" },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Port != 18789 {
		t.Errorf("default port: got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.Token != "secret" {
		t.Errorf("token not parsed")
	}
	ag := cfg.Agent("main")
	if ag.Sandbox.Mode != SandboxOff || ag.Exec.Host != "gateway" {
		t.Errorf("agent defaults not applied: %+v", ag)
	}
	if cfg.Session.QueueDrop != "oldest" || cfg.Session.QueueCap != 16 {
		t.Errorf("session defaults: %+v", cfg.Session)
	}
}

func TestLoad_UnknownAgentFallsBack(t *testing.T) {
	path := writeConfig(t, `{ routing: { defaultAgent: "main" }, agents: { main: {} } }`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent("nope") != cfg.Agents["main"] {
		t.Error("unknown agent should resolve to default")
	}
}

func TestSandboxTools_RoutingOverrideReplaces(t *testing.T) {
	path := writeConfig(t, `{
		agents: { main: { sandbox: { tools: { allow: ["exec", "process"] } } } },
		routing: {
			defaultAgent: "main",
			agents: { main: { sandbox: { tools: { allow: ["process"] } } } },
		},
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tools := cfg.SandboxTools("main")
	if tools == nil || len(tools.Allow) != 1 || tools.Allow[0] != "process" {
		t.Errorf("routing override should replace sandbox tools, got %+v", tools)
	}
}

func TestApply_SwapsReloadableSections(t *testing.T) {
	cfg := Default(filepath.Join(t.TempDir(), "clawdbot.json5"))
	cfg.Gateway.Port = 9999
	cfg.Gateway.Token = "secret"

	next := Default(cfg.Path)
	next.Gateway.Port = 1234
	next.Gateway.Token = "other"
	next.Gateway.RateLimitRPM = 60
	next.Routing.DefaultAgent = "helper"
	next.Agents["helper"] = &AgentConfig{Model: "claude-sonnet"}
	next.Session.QueueCap = 4
	next.Providers = map[string]*ProviderConfig{"anthropic": {APIKey: "k"}}

	cfg.Apply(next)

	if cfg.DefaultAgent() != "helper" {
		t.Errorf("routing not swapped: %q", cfg.DefaultAgent())
	}
	if cfg.SessionDefaults().QueueCap != 4 {
		t.Errorf("session not swapped: %+v", cfg.SessionDefaults())
	}
	if _, ok := cfg.Provider("anthropic"); !ok {
		t.Error("providers not swapped")
	}
	if cfg.Gateway.RateLimitRPM != 60 {
		t.Error("rate limit should reload")
	}
	// Listen address and auth stay fixed until restart.
	if cfg.Gateway.Port != 9999 || cfg.Gateway.Token != "secret" {
		t.Errorf("listen/auth must not reload: port=%d token=%q", cfg.Gateway.Port, cfg.Gateway.Token)
	}
}

func TestApply_RacesAccessors(t *testing.T) {
	cfg := Default(filepath.Join(t.TempDir(), "clawdbot.json5"))
	next := Default(cfg.Path)
	next.Routing.DefaultAgent = "helper"
	next.Agents["helper"] = &AgentConfig{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = cfg.DefaultAgent()
				_ = cfg.Agent("helper")
				_ = cfg.SessionDefaults()
				_ = cfg.GlobalTools()
				_ = cfg.AllowedOrigins()
				_ = cfg.SandboxTools("helper")
				_, _ = cfg.Provider("anthropic")
			}
		}()
	}
	for j := 0; j < 100; j++ {
		cfg.Apply(next)
	}
	wg.Wait()
}

func TestNormalizeAgentID(t *testing.T) {
	tests := map[string]string{
		"":          "default",
		"Main":      "main",
		"My Agent!": "my-agent",
		"--x--":     "x",
		"ok_id-1":   "ok_id-1",
	}
	for in, want := range tests {
		if got := NormalizeAgentID(in); got != want {
			t.Errorf("NormalizeAgentID(%q) = %q, want %q", in, got, want)
		}
	}
}
