package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/clawdbot/clawdbot/internal/execsvc"
)

// ProcessTool inspects and controls backgrounded exec sessions.
type ProcessTool struct {
	exec *execsvc.Executor
}

func NewProcessTool(exec *execsvc.Executor) *ProcessTool {
	return &ProcessTool{exec: exec}
}

func (t *ProcessTool) Name() string { return "process" }

func (t *ProcessTool) Description() string {
	return "Manage background commands started by exec: poll pending output, list sessions, or kill one."
}

func (t *ProcessTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"poll", "list", "kill"},
				"description": "What to do.",
			},
			"sessionId": map[string]interface{}{
				"type":        "string",
				"description": "Exec session id (required for poll and kill).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ProcessTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	sessionID, _ := args["sessionId"].(string)

	switch action {
	case "list":
		updates := t.exec.Registry().List()
		if len(updates) == 0 {
			return NewResult("No exec sessions.")
		}
		var sb strings.Builder
		for _, u := range updates {
			state := "running"
			if u.Exited {
				state = fmt.Sprintf("exited %d", u.ExitCode)
			}
			fmt.Fprintf(&sb, "%s  %s  %s\n", u.ID, state, u.Command)
		}
		return NewResult(sb.String())

	case "poll":
		if sessionID == "" {
			return ErrorResult("sessionId is required for poll")
		}
		session, ok := t.exec.Registry().Get(sessionID)
		if !ok {
			return ErrorResult("exec session not found: " + sessionID)
		}
		stdout, stderr := session.DrainPending()
		exited, code := session.Exited()
		var sb strings.Builder
		if stdout != "" {
			sb.WriteString(stdout)
		}
		if stderr != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString("[stderr]\n" + stderr)
		}
		if exited {
			fmt.Fprintf(&sb, "\n[exited with code %d]", code)
		} else if sb.Len() == 0 {
			sb.WriteString("(still running, no new output)")
		}
		return NewResult(sb.String())

	case "kill":
		if sessionID == "" {
			return ErrorResult("sessionId is required for kill")
		}
		if err := t.exec.Kill(sessionID); err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult("Killed " + sessionID)

	default:
		return ErrorResult("unknown action: " + action)
	}
}
