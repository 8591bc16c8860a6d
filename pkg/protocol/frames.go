// Package protocol defines the wire format for the Clawdbot Gateway
// WebSocket plane. Chat UIs, nodes, and the CLI all speak this protocol;
// the package is importable by external clients.
package protocol

import "encoding/json"

// Protocol version. Clients negotiate this during the hello handshake.
const ProtocolVersion = 2

// Frame types
const (
	FrameTypeHello    = "hello"
	FrameTypeRequest  = "rpc.req"
	FrameTypeResponse = "rpc.res"
	FrameTypeEvent    = "event"
	FrameTypeSnapshot = "push.snapshot"
	FrameTypeSeqGap   = "seqGap"
)

// MaxFrameSize is the largest frame accepted in either direction (8 MiB).
// Oversize frames cause a socket close with CloseReasonFrameTooLarge.
const MaxFrameSize = 8 << 20

// CloseReasonFrameTooLarge is the close reason sent for oversize frames.
const CloseReasonFrameTooLarge = "frame-too-large"

// HelloFrame is the first frame a client sends after connecting.
type HelloFrame struct {
	Type          string   `json:"type"` // always "hello"
	Role          string   `json:"role"` // chat-ui | node | cli
	ClientName    string   `json:"clientName,omitempty"`
	ClientVersion string   `json:"clientVersion,omitempty"`
	Platform      string   `json:"platform,omitempty"` // ios | mac | linux | windows
	Mode          string   `json:"mode,omitempty"`
	InstanceID    string   `json:"instanceId,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	Commands      []string `json:"commands,omitempty"` // node role: declared command allowlist
	Token         string   `json:"token,omitempty"`
	Password      string   `json:"password,omitempty"`
}

// RequestFrame is sent by clients to invoke an RPC method.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "rpc.req"
	ID     string          `json:"id"`     // unique request ID (client-generated)
	Method string          `json:"method"` // RPC method name
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is sent by the server in response to a request.
type ResponseFrame struct {
	Type    string      `json:"type"`              // always "rpc.res"
	ID      string      `json:"id"`                // matches request ID
	OK      bool        `json:"ok"`                // true if success
	Payload interface{} `json:"payload,omitempty"` // response data (when ok=true)
	Error   *ErrorShape `json:"error,omitempty"`   // error info (when ok=false)
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code         string      `json:"code"`
	Message      string      `json:"message"`
	Details      interface{} `json:"details,omitempty"`
	Retryable    bool        `json:"retryable,omitempty"`
	RetryAfterMs int         `json:"retryAfterMs,omitempty"`
}

// EventFrame is pushed from server to client without a preceding request.
// Nodes also use it to report invoke progress upstream.
type EventFrame struct {
	Type         string        `json:"type"`                   // always "event"
	Event        string        `json:"event"`                  // event name
	Payload      Value         `json:"payload,omitempty"`      // event data
	Seq          int64         `json:"seq,omitempty"`          // per-client ordering sequence
	StateVersion *StateVersion `json:"stateVersion,omitempty"` // version counters for state sync
}

// SnapshotFrame carries the full HelloOk state block. The hub sends it on
// connect and in answer to a seqGap (full resync instead of partial replay).
type SnapshotFrame struct {
	Type  string  `json:"type"` // always "push.snapshot"
	Hello HelloOk `json:"hello"`
	Seq   int64   `json:"seq,omitempty"`
}

// SeqGapFrame is emitted by a client that observed a discontinuity in the
// seq stream, carrying the expected and actually received values.
type SeqGapFrame struct {
	Type     string `json:"type"` // always "seqGap"
	Expected int64  `json:"expected"`
	Received int64  `json:"received"`
}

// StateVersion tracks version counters for optimistic state sync.
type StateVersion struct {
	Presence int64 `json:"presence"`
	Health   int64 `json:"health"`
}

// NewOKResponse creates a success response frame.
func NewOKResponse(id string, payload interface{}) *ResponseFrame {
	return &ResponseFrame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      true,
		Payload: payload,
	}
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload Value) *EventFrame {
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: payload,
	}
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
