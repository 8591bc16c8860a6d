package cmd

import (
	"log/slog"
	"strings"
)

// agentErrorRules classifies raw provider errors into short user-safe
// replies. Order matters: context overflow and history-format errors
// mention 401/403-adjacent words, so they run before the auth rule.
var agentErrorRules = []struct {
	match func(lower string) bool
	reply string
}{
	{isContextOverflow, "⚠️ Context overflow — message too large for this model. Try /new to start a fresh session."},
	{isHistoryFormatError, "⚠️ Session history conflict — please try again. If this persists, use /new to start a fresh session."},
	{anyOf("rate limit", "rate_limit", "too many requests", "429", "quota exceeded", "resource_exhausted"), "⚠️ API rate limit reached. Please try again later."},
	{anyOf("overloaded"), "⚠️ The AI service is temporarily overloaded. Please try again in a moment."},
	{anyOf("billing", "insufficient credits", "credit balance", "payment required", "402"), "⚠️ API billing error — your API key may have run out of credits. Check your provider's billing dashboard."},
	{anyOf("invalid api key", "invalid_api_key", "unauthorized", "forbidden", "authentication", "401", "403", "access denied"), "⚠️ Authentication error. Please check your API key configuration."},
	{anyOf("timeout", "timed out", "deadline exceeded"), "⚠️ Request timed out. Please try again."},
	{anyOf("not a valid model"), "⚠️ Model configuration error. Please check your config and restart."},
}

// formatAgentError maps a raw provider error to user-safe text. Raw
// JSON and API payloads never reach the user.
func formatAgentError(err error) string {
	lower := strings.ToLower(err.Error())
	for _, rule := range agentErrorRules {
		if rule.match(lower) {
			return rule.reply
		}
	}
	slog.Warn("unclassified agent error", "error", err.Error())
	return "⚠️ Sorry, something went wrong processing your message. Please try again."
}

func anyOf(needles ...string) func(string) bool {
	return func(lower string) bool {
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
		return false
	}
}

func isContextOverflow(lower string) bool {
	if anyOf(
		"request_too_large",
		"context length exceeded",
		"maximum context length",
		"prompt is too long",
		"exceeds model context window",
		"request exceeds the maximum size",
	)(lower) {
		return true
	}
	return strings.Contains(lower, "context") &&
		anyOf("overflow", "too large", "too long", "limit", "exceeded")(lower)
}

// isHistoryFormatError spots tool_use/tool_result mismatches and role
// ordering complaints, which mean the stored session history no longer
// matches what the provider expects.
func isHistoryFormatError(lower string) bool {
	return anyOf(
		"tool_use_id",
		"tool_use.id",
		"unexpected tool",
		"roles must alternate",
		"incorrect role information",
		"invalid request format",
		"tool_result block",
		"tool_use block",
	)(lower)
}
