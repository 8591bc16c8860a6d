// Package execsvc executes shell commands for agents, gated by a layered
// security / ask / allowlist pipeline, on the gateway host, inside a
// per-agent container, or on a paired node.
package execsvc

import "github.com/clawdbot/clawdbot/internal/approvals"

// securityRank orders security levels: deny < allowlist < full.
func securityRank(s string) int {
	switch s {
	case approvals.SecurityFull:
		return 2
	case approvals.SecurityAllowlist:
		return 1
	default: // deny, or anything unrecognized
		return 0
	}
}

// askRank orders ask modes: off < on-miss < always.
func askRank(a string) int {
	switch a {
	case approvals.AskAlways:
		return 2
	case approvals.AskOnMiss:
		return 1
	default:
		return 0
	}
}

// MinSecurity returns the more restrictive of two security levels.
// deny is absorbing; the operation is commutative and associative.
func MinSecurity(a, b string) string {
	if a == "" {
		return normalizeSecurity(b)
	}
	if b == "" {
		return normalizeSecurity(a)
	}
	if securityRank(a) <= securityRank(b) {
		return normalizeSecurity(a)
	}
	return normalizeSecurity(b)
}

// MaxAsk returns the more demanding of two ask modes. always is absorbing.
func MaxAsk(a, b string) string {
	if a == "" {
		return normalizeAsk(b)
	}
	if b == "" {
		return normalizeAsk(a)
	}
	if askRank(a) >= askRank(b) {
		return normalizeAsk(a)
	}
	return normalizeAsk(b)
}

func normalizeSecurity(s string) string {
	switch s {
	case approvals.SecurityFull, approvals.SecurityAllowlist, approvals.SecurityDeny:
		return s
	case "":
		return ""
	default:
		return approvals.SecurityDeny
	}
}

func normalizeAsk(a string) string {
	switch a {
	case approvals.AskOff, approvals.AskOnMiss, approvals.AskAlways:
		return a
	case "":
		return ""
	default:
		return approvals.AskOnMiss
	}
}
