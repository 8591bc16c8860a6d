package tools

import (
	"strings"

	"github.com/clawdbot/clawdbot/internal/config"
)

// Policy is the effective tool admission check composed from layered
// allow/deny specs (global, agent, sandbox, subagent). Each layer can
// only restrict: a name survives when every layer admits it, so a later
// layer's allow never re-grants something an earlier layer denied.
type Policy struct {
	layers []config.ToolPolicySpec
}

// NewPolicy composes layers left to right. Nil layers are skipped.
func NewPolicy(layers ...*config.ToolPolicySpec) *Policy {
	p := &Policy{}
	for _, l := range layers {
		if l == nil {
			continue
		}
		p.layers = append(p.layers, *l)
	}
	return p
}

// PolicyFor builds the policy for an agent. The sandbox layer applies
// only when the command would run sandboxed; the subagent layer only for
// subagent sessions. Per-agent routing sandbox tools replace the agent's
// own sandbox spec entirely when present.
func PolicyFor(cfg *config.Config, agentID string, sandboxed, subagent bool) *Policy {
	globalTools := cfg.GlobalTools()
	global := &config.ToolPolicySpec{Allow: globalTools.Allow, Deny: globalTools.Deny}
	agent := &cfg.Agent(agentID).Tools

	var sandbox *config.ToolPolicySpec
	if sandboxed {
		sandbox = cfg.SandboxTools(agentID)
	}
	var sub *config.ToolPolicySpec
	if subagent {
		sub = globalTools.Subagent
	}
	return NewPolicy(global, agent, sandbox, sub)
}

// Allows reports whether the named tool survives every layer. A layer
// admits a name when the name is not denied and either the layer's allow
// list is empty (no restriction) or the name matches an allow entry.
func (p *Policy) Allows(name string) bool {
	if p == nil {
		return true
	}
	for _, layer := range p.layers {
		if matchAny(layer.Deny, name) {
			return false
		}
		if len(layer.Allow) > 0 && !matchAny(layer.Allow, name) {
			return false
		}
	}
	return true
}

// Filter returns the names admitted by the policy, preserving order.
func (p *Policy) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if p.Allows(n) {
			out = append(out, n)
		}
	}
	return out
}

func matchAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if matchPattern(pat, name) {
			return true
		}
	}
	return false
}

// matchPattern compares case-insensitively; a trailing "*" matches any
// suffix ("web_*" covers web_fetch), and a bare "*" matches everything.
func matchPattern(pattern, name string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	name = strings.ToLower(name)
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}
