// Package sessions holds session keys, entries, and the per-agent JSON store.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the conversation:
//
//	DM:       {surface}:dm:{peerId}      e.g. agent:main:dm:+15551234
//	Group:    {surface}:group:{groupId}
//	Channel:  {surface}:channel:{channelId}
//	Subagent: subagent:{label}
//	Main:     {mainKey}                  (shared per-agent session)
package sessions

import (
	"fmt"
	"strings"
)

// ChatType distinguishes conversation shapes.
type ChatType string

const (
	ChatDirect  ChatType = "direct"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
)

// chatSegment maps a chat type to its key segment.
func chatSegment(t ChatType) string {
	switch t {
	case ChatGroup:
		return "group"
	case ChatChannel:
		return "channel"
	default:
		return "dm"
	}
}

// BuildSessionKey builds the canonical session key for a conversation.
func BuildSessionKey(agentID, surface string, chatType ChatType, peer string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, surface, chatSegment(chatType), peer)
}

// BuildSubagentSessionKey builds the session key for a subagent run.
func BuildSubagentSessionKey(agentID, label string) string {
	return fmt.Sprintf("agent:%s:subagent:%s", agentID, label)
}

// BuildAgentMainSessionKey builds the shared "main" session key for an
// agent, used as the last resort of the lookup resolution chain.
func BuildAgentMainSessionKey(agentID, mainKey string) string {
	if mainKey == "" {
		mainKey = "main"
	}
	return fmt.Sprintf("agent:%s:%s", agentID, mainKey)
}

// ParseSessionKey splits a canonical key into agent id and rest.
// Returns ("", "") when the key is not in canonical form.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" || parts[1] == "" {
		return "", ""
	}
	return parts[1], parts[2]
}

// AliasKey rewrites legacy "dm"/"direct" spellings so old stores keep
// resolving: "surface:direct:peer" and "surface:dm:peer" are equivalent.
func AliasKey(key string) string {
	if strings.Contains(key, ":direct:") {
		return strings.Replace(key, ":direct:", ":dm:", 1)
	}
	if strings.Contains(key, ":dm:") {
		return strings.Replace(key, ":dm:", ":direct:", 1)
	}
	return key
}
