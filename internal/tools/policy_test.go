package tools

import (
	"testing"

	"github.com/clawdbot/clawdbot/internal/config"
)

func spec(allow, deny []string) *config.ToolPolicySpec {
	return &config.ToolPolicySpec{Allow: allow, Deny: deny}
}

func TestPolicy_EmptyAllowsEverything(t *testing.T) {
	p := NewPolicy()
	for _, name := range []string{"exec", "web_fetch", "nodes"} {
		if !p.Allows(name) {
			t.Errorf("empty policy should allow %q", name)
		}
	}
}

func TestPolicy_DenyWins(t *testing.T) {
	p := NewPolicy(spec(nil, []string{"exec"}))
	if p.Allows("exec") {
		t.Error("denied tool admitted")
	}
	if !p.Allows("web_fetch") {
		t.Error("unrelated tool rejected")
	}
}

func TestPolicy_AllowListRestricts(t *testing.T) {
	p := NewPolicy(spec([]string{"web_fetch", "sessions"}, nil))
	if !p.Allows("web_fetch") {
		t.Error("allow-listed tool rejected")
	}
	if p.Allows("exec") {
		t.Error("tool outside allow list admitted")
	}
}

func TestPolicy_LaterAllowNeverRegrants(t *testing.T) {
	// Global denies exec; agent layer allow-lists it. The agent layer
	// may only restrict, so exec stays denied.
	p := NewPolicy(
		spec(nil, []string{"exec"}),
		spec([]string{"exec", "web_fetch"}, nil),
	)
	if p.Allows("exec") {
		t.Error("later allow re-granted a denied tool")
	}
	if !p.Allows("web_fetch") {
		t.Error("web_fetch should survive both layers")
	}
}

func TestPolicy_LayersCompose(t *testing.T) {
	p := NewPolicy(
		spec(nil, []string{"tts"}),                       // global
		spec([]string{"exec", "web_fetch", "nodes"}, nil), // agent
		spec(nil, []string{"nodes"}),                     // sandbox
	)
	cases := map[string]bool{
		"exec":      true,
		"web_fetch": true,
		"nodes":     false, // sandbox denies
		"tts":       false, // global denies
		"sessions":  false, // outside agent allow
	}
	for name, want := range cases {
		if got := p.Allows(name); got != want {
			t.Errorf("Allows(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPolicy_Wildcards(t *testing.T) {
	p := NewPolicy(spec(nil, []string{"web_*"}))
	if p.Allows("web_fetch") {
		t.Error("wildcard deny missed web_fetch")
	}
	if !p.Allows("exec") {
		t.Error("wildcard deny over-matched")
	}

	all := NewPolicy(spec([]string{"*"}, nil))
	if !all.Allows("anything") {
		t.Error("bare * should admit everything")
	}
}

func TestPolicy_Filter(t *testing.T) {
	p := NewPolicy(spec([]string{"a", "b"}, []string{"b"}))
	got := p.Filter([]string{"a", "b", "c"})
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("Filter = %v, want [a]", got)
	}
}

func TestPolicyFor_RoutingSandboxToolsReplace(t *testing.T) {
	cfg := &config.Config{
		Agents: map[string]*config.AgentConfig{
			"main": {
				Sandbox: config.SandboxConfig{
					Tools: spec([]string{"exec"}, nil),
				},
			},
		},
		Routing: config.RoutingConfig{
			DefaultAgent: "main",
			Agents: map[string]*config.RoutingAgent{
				"main": {},
			},
		},
	}
	cfg.Routing.Agents["main"].Sandbox = &struct {
		Tools *config.ToolPolicySpec `json:"tools"`
	}{Tools: spec([]string{"web_fetch"}, nil)}

	p := PolicyFor(cfg, "main", true, false)
	if p.Allows("exec") {
		t.Error("routing override should replace agent sandbox tools, exec must be out")
	}
	if !p.Allows("web_fetch") {
		t.Error("routing override allow list should admit web_fetch")
	}

	// Without the routing override the agent's own sandbox spec applies.
	cfg.Routing.Agents = nil
	p = PolicyFor(cfg, "main", true, false)
	if !p.Allows("exec") {
		t.Error("agent sandbox tools should admit exec")
	}
	if p.Allows("web_fetch") {
		t.Error("agent sandbox allow list should reject web_fetch")
	}
}

func TestPolicyFor_SubagentLayer(t *testing.T) {
	cfg := &config.Config{
		Agents: map[string]*config.AgentConfig{"main": {}},
		Routing: config.RoutingConfig{DefaultAgent: "main"},
		Tools: config.ToolsConfig{
			Subagent: spec(nil, []string{"nodes"}),
		},
	}
	if !PolicyFor(cfg, "main", false, false).Allows("nodes") {
		t.Error("main session should keep nodes")
	}
	if PolicyFor(cfg, "main", false, true).Allows("nodes") {
		t.Error("subagent layer should deny nodes")
	}
}
