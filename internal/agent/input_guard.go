package agent

import (
	"regexp"
	"strings"
)

type guardPattern struct {
	name string
	re   *regexp.Regexp
}

// injectionPatterns is the built-in detection table. Each entry names a
// known prompt injection technique; names surface in logs, never to the
// model. Regexes are tuned to keep false positives on ordinary chat low.
var injectionPatterns = []guardPattern{
	{"ignore_instructions", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier|preceding)\s+(instructions?|rules?|prompts?|directives?|guidelines?)`)},
	{"role_override", regexp.MustCompile(`(?i)(you are now|from now on you are|pretend you are|act as if you are|imagine you are)\s+`)},
	{"system_tags", regexp.MustCompile(`(?i)</?system>|\[SYSTEM\]|\[INST\]|<<SYS>>|<\|im_start\|>system`)},
	{"instruction_injection", regexp.MustCompile(`(?i)(new instructions?:|override:|system prompt:|<\|system\|>)`)},
	{"null_bytes", regexp.MustCompile(`\x00`)},
	{"delimiter_escape", regexp.MustCompile(`(?i)(end of system|begin user input|</?(instructions?|rules|prompt|context)>)`)},
}

// InputGuard screens inbound messages before they reach the model.
// Matches do not block the turn; the orchestrator decides what to do
// with them.
type InputGuard struct {
	patterns []guardPattern
}

func NewInputGuard() *InputGuard {
	return &InputGuard{patterns: injectionPatterns}
}

// Scan returns the names of every pattern the message trips, or nil.
func (g *InputGuard) Scan(message string) []string {
	if message == "" {
		return nil
	}
	var hits []string
	for _, p := range g.patterns {
		if p.re.MatchString(message) {
			hits = append(hits, p.name)
		}
	}
	return hits
}

// HasPatterns reports whether the guard has any detection entries.
func (g *InputGuard) HasPatterns() bool { return len(g.patterns) > 0 }

// PatternNames lists the configured pattern names, in table order.
func (g *InputGuard) PatternNames() []string {
	names := make([]string, len(g.patterns))
	for i, p := range g.patterns {
		names[i] = p.name
	}
	return names
}

// ContainsNullBytes is the cheap pre-check; null bytes reject the
// message outright before any regex runs.
func ContainsNullBytes(s string) bool {
	return strings.ContainsRune(s, 0)
}
