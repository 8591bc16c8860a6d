package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clawdbot/clawdbot/internal/nodes"
)

// NodesTool lets the model list paired nodes and invoke their declared
// commands through the invoke router (both allowlist gates apply).
type NodesTool struct {
	registry *nodes.Registry
	router   *nodes.Router
}

func NewNodesTool(registry *nodes.Registry, router *nodes.Router) *NodesTool {
	return &NodesTool{registry: registry, router: router}
}

func (t *NodesTool) Name() string { return "nodes" }

func (t *NodesTool) Description() string {
	return "Interact with paired device nodes: list them or invoke a command a node declares (camera, canvas, location, notifications)."
}

func (t *NodesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"list", "invoke"},
				"description": "What to do.",
			},
			"nodeId": map[string]interface{}{
				"type":        "string",
				"description": "Target node id (optional when exactly one node is paired).",
			},
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Node command, e.g. canvas.snapshot or system.notify.",
			},
			"params": map[string]interface{}{
				"type":        "object",
				"description": "Command parameters.",
			},
		},
		"required": []string{"action"},
	}
}

func (t *NodesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)

	switch action {
	case "list":
		list := t.registry.List()
		if len(list) == 0 {
			return NewResult("No nodes paired.")
		}
		var sb strings.Builder
		for _, n := range list {
			state := "offline"
			if n.Connected {
				state = "connected"
			}
			fmt.Fprintf(&sb, "%s (%s, %s): %s\n", n.ID, n.Platform, state, strings.Join(n.Commands, ", "))
		}
		return NewResult(sb.String())

	case "invoke":
		command, _ := args["command"].(string)
		if command == "" {
			return ErrorResult("command is required for invoke")
		}
		nodeID, _ := args["nodeId"].(string)

		var params json.RawMessage
		if p, ok := args["params"]; ok && p != nil {
			raw, err := json.Marshal(p)
			if err != nil {
				return ErrorResult("bad params: " + err.Error())
			}
			params = raw
		}

		payload, err := t.router.Invoke(ctx, nodeID, command, params, 30_000)
		if err != nil {
			return ErrorResult(err.Error())
		}
		if len(payload) == 0 || string(payload) == "null" {
			return NewResult("OK (no payload)")
		}
		return NewResult(string(payload))

	default:
		return ErrorResult("unknown action: " + action)
	}
}
