package config

import "strings"

const DefaultAgentID = "default"

func idRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

// NormalizeAgentID turns a user-provided name into a valid agent ID.
// IDs are lowercase, at most 64 chars, restricted to [a-z0-9_-]. Runs of
// other characters become a single dash, edge dashes are stripped, and
// an empty result falls back to "default".
func NormalizeAgentID(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	parts := strings.FieldsFunc(lower, func(r rune) bool { return !idRune(r) })
	id := strings.Trim(strings.Join(parts, "-"), "-")
	if len(id) > 64 {
		id = strings.TrimRight(id[:64], "-")
	}
	if id == "" {
		return DefaultAgentID
	}
	return id
}
