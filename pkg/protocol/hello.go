package protocol

// Client roles accepted by the hub.
const (
	RoleChatUI = "chat-ui"
	RoleNode   = "node"
	RoleCLI    = "cli"
)

// HelloOk is the server's answer to a valid hello frame. The same block is
// re-sent inside push.snapshot whenever a client needs a full resync.
type HelloOk struct {
	Type         string            `json:"type"` // always "hello"
	Protocol     int               `json:"_protocol"`
	Server       map[string]string `json:"server"`
	Features     map[string]bool   `json:"features"`
	Snapshot     Snapshot          `json:"snapshot"`
	CanvasHostURL string           `json:"canvasHostUrl,omitempty"`
	Auth         *AuthInfo         `json:"auth,omitempty"`
	Policy       map[string]any    `json:"policy,omitempty"`
}

// Snapshot is the full gateway state block carried by HelloOk.
type Snapshot struct {
	Presence        []PresenceEntry `json:"presence"`
	Health          HealthState     `json:"health"`
	StateVersion    StateVersion    `json:"stateVersion"`
	UptimeMs        int64           `json:"uptimeMs"`
	ConfigPath      string          `json:"configPath,omitempty"`
	StateDir        string          `json:"stateDir,omitempty"`
	SessionDefaults map[string]any  `json:"sessionDefaults,omitempty"`
}

// PresenceEntry describes one connected client.
type PresenceEntry struct {
	ClientID   string `json:"clientId"`
	Role       string `json:"role"`
	ClientName string `json:"clientName,omitempty"`
	Platform   string `json:"platform,omitempty"`
	SinceMs    int64  `json:"sinceMs,omitempty"`
}

// HealthState is the gateway health summary.
type HealthState struct {
	OK     bool           `json:"ok"`
	Detail map[string]any `json:"detail,omitempty"`
}

// AuthInfo reports which auth mode admitted the client.
type AuthInfo struct {
	Mode string `json:"mode"` // token | password | open
	Role string `json:"role"`
}

// NewHelloOk builds a HelloOk with the fixed type/protocol fields set.
func NewHelloOk(server map[string]string, features map[string]bool, snap Snapshot) HelloOk {
	return HelloOk{
		Type:     FrameTypeHello,
		Protocol: ProtocolVersion,
		Server:   server,
		Features: features,
		Snapshot: snap,
	}
}
