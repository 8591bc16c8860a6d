// Package approvals implements the exec approvals file, the allowlist
// pattern matcher, and the out-of-band approval socket.
package approvals

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Resolution describes a resolved executable for allowlist matching.
type Resolution struct {
	RawExecutable  string // first command token as typed
	ResolvedPath   string // absolute path after PATH search
	ExecutableName string // basename of the executable
}

// Pattern semantics:
//
//	**  matches any characters, including path separators
//	*   matches anything except the path separator
//	?   matches exactly one character (not a separator)
//
// Patterns containing a path separator match the resolved absolute path;
// bare patterns match the executable basename. Matching is
// case-insensitive in both forms.

var patternCache sync.Map // pattern → *regexp.Regexp

func compilePattern(pattern string) *regexp.Regexp {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}

	var b strings.Builder
	b.WriteString("(?i)^")
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		}
	}
	b.WriteString("$")

	re := regexp.MustCompile(b.String())
	patternCache.Store(pattern, re)
	return re
}

// MatchPattern reports whether a single pattern matches the resolution.
func MatchPattern(pattern string, res Resolution) bool {
	if pattern == "" {
		return false
	}
	re := compilePattern(pattern)
	if strings.ContainsRune(pattern, '/') {
		return res.ResolvedPath != "" && re.MatchString(res.ResolvedPath)
	}
	name := res.ExecutableName
	if name == "" {
		if res.ResolvedPath != "" {
			name = filepath.Base(res.ResolvedPath)
		} else {
			name = filepath.Base(res.RawExecutable)
		}
	}
	return re.MatchString(name)
}

// MatchAllowlist returns the first matching entry, or nil. Entries are
// evaluated in order; first match wins.
func MatchAllowlist(entries []AllowlistEntry, res Resolution) *AllowlistEntry {
	for i := range entries {
		if MatchPattern(entries[i].Pattern, res) {
			return &entries[i]
		}
	}
	return nil
}
