package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/clawdbot/clawdbot/internal/execsvc"
)

// ExecTool runs shell commands through the gate pipeline. The sandbox
// scope key from the call context selects the agent and session the
// gates evaluate against.
type ExecTool struct {
	exec    *execsvc.Executor
	agentID string
}

func NewExecTool(exec *execsvc.Executor, agentID string) *ExecTool {
	return &ExecTool{exec: exec, agentID: agentID}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Run a shell command. Long-running commands yield after a few seconds and keep running in the background; poll them with the process tool."
}

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"workdir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (defaults to the agent workspace).",
			},
			"background": map[string]interface{}{
				"type":        "boolean",
				"description": "Return immediately and leave the command running.",
			},
			"timeoutSec": map[string]interface{}{
				"type":        "number",
				"description": "Hard kill timeout in seconds.",
			},
			"pty": map[string]interface{}{
				"type":        "boolean",
				"description": "Allocate a pseudo-terminal.",
			},
			"elevated": map[string]interface{}{
				"type":        "boolean",
				"description": "Request elevated (gateway-host) execution.",
			},
			"node": map[string]interface{}{
				"type":        "string",
				"description": "Run on a paired node instead of the gateway.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	params := execsvc.Params{
		Command:    command,
		AgentID:    t.agentID,
		SessionKey: ToolSandboxKeyFromCtx(ctx),
	}
	if wd, ok := args["workdir"].(string); ok {
		params.Workdir = wd
	}
	if bg, ok := args["background"].(bool); ok {
		params.Background = bg
	}
	if ts, ok := args["timeoutSec"].(float64); ok && ts > 0 {
		params.TimeoutSec = int(ts)
	}
	if pty, ok := args["pty"].(bool); ok {
		params.PTY = pty
	}
	if el, ok := args["elevated"].(bool); ok {
		params.Elevated = el
	}
	if node, ok := args["node"].(string); ok && node != "" {
		params.Node = node
		params.Host = "node"
	}
	params.NotifyOnExit = true

	res, err := t.exec.Exec(ctx, params)
	if err != nil {
		var gateErr *execsvc.GateError
		if errors.As(err, &gateErr) {
			return ErrorResult("exec denied (" + gateErr.Reason + "): " + gateErr.Message)
		}
		return ErrorResult("exec failed: " + err.Error())
	}

	switch res.Status {
	case execsvc.StatusRunning:
		return NewResult(fmt.Sprintf("Command running in background (session %s). Poll with the process tool.", res.SessionID))
	case execsvc.StatusFailed:
		msg := fmt.Sprintf("Command failed (exit %d)", res.ExitCode)
		if res.Output != "" {
			msg += "\n" + res.Output
		}
		return ErrorResult(msg)
	default:
		out := res.Output
		if out == "" {
			out = "(no output)"
		}
		if res.Truncated {
			out += "\n[output truncated]"
		}
		return NewResult(out)
	}
}
