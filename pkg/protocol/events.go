package protocol

// WebSocket event names pushed from server to client.
const (
	EventChat            = "chat"
	EventHealth          = "health"
	EventTick            = "tick"
	EventPresence        = "presence"
	EventShutdown        = "shutdown"
	EventAgent           = "agent"
	EventExecApprovalReq = "exec.approval.requested"
	EventExecApprovalRes = "exec.approval.resolved"
	EventNodeInvokeReq   = "node.invoke.request"
	EventConfigReloaded  = "config.reloaded"
	EventHeartbeat       = "heartbeat"
)

// Chat event run states (in payload.state).
const (
	ChatStateStreaming = "streaming"
	ChatStateTool      = "tool"
	ChatStateFinal     = "final"
)

// ChatEvent is the payload of an EventChat frame.
type ChatEvent struct {
	RunID      string `json:"runId"`
	SessionKey string `json:"sessionKey"`
	State      string `json:"state"` // streaming | tool | final
	Text       string `json:"text,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
}
