package tools

import "regexp"

const redactedPlaceholder = "[REDACTED]"

// credentialPatterns match secrets that tend to leak through tool output
// (env dumps, config reads, HTTP traces). The generic key=value rule runs
// last so the vendor-specific rules redact the whole token first.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`),             // Anthropic
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),                  // OpenAI
	regexp.MustCompile(`gh[opurs]_[a-zA-Z0-9]{36}`),            // GitHub tokens
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),                     // AWS access key ID
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|bearer|authorization)\s*[:=]\s*["']?\S{8,}["']?`),
}

// ScrubCredentials redacts credential-shaped substrings from text.
func ScrubCredentials(text string) string {
	for _, pat := range credentialPatterns {
		text = pat.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
