// Package config holds the gateway configuration model and json5 loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/titanous/json5"
)

// Config is the root gateway configuration. Components hold the same
// *Config for the process lifetime; hot reload swaps the reloadable
// sections through Apply, and concurrent readers go through the locked
// accessors rather than the fields.
type Config struct {
	Gateway   GatewayConfig              `json:"gateway"`
	Agents    map[string]*AgentConfig    `json:"agents"`
	Routing   RoutingConfig              `json:"routing"`
	Tools     ToolsConfig                `json:"tools"`
	Session   SessionDefaults            `json:"session"`
	Heartbeat HeartbeatConfig            `json:"heartbeat"`
	Telemetry TelemetryConfig            `json:"telemetry"`
	Providers map[string]*ProviderConfig `json:"providers"`

	// Set by Load, not read from the file.
	Path     string `json:"-"`
	StateDir string `json:"-"`

	mu sync.RWMutex
}

// GatewayConfig configures the WebSocket hub.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`        // shared-secret auth
	PasswordHash   string   `json:"passwordHash"` // bcrypt hash, alternative to token
	AllowedOrigins []string `json:"allowedOrigins"`
	RateLimitRPM   int      `json:"rateLimitRpm"`
	CanvasHostURL  string   `json:"canvasHostUrl"`
}

// AgentConfig is the static per-agent configuration.
type AgentConfig struct {
	Workspace string         `json:"workspace"`
	Model     string         `json:"model"`
	Provider  string         `json:"provider"`
	Sandbox   SandboxConfig  `json:"sandbox"`
	Tools     ToolPolicySpec `json:"tools"`
	Exec      ExecDefaults   `json:"exec"`
}

// Sandbox modes.
const (
	SandboxOff     = "off"
	SandboxNonMain = "non-main"
	SandboxAll     = "all"
)

// SandboxConfig bounds where agent commands run.
type SandboxConfig struct {
	Mode            string          `json:"mode"`            // off | non-main | all
	Scope           string          `json:"scope"`           // session | agent | shared
	WorkspaceAccess string          `json:"workspaceAccess"` // none | ro | rw
	Image           string          `json:"image"`
	CPUs            float64         `json:"cpus"`
	MemoryMB        int             `json:"memoryMb"`
	Browser         bool            `json:"browser"`
	Prune           PrunePolicy     `json:"prune"`
	Tools           *ToolPolicySpec `json:"tools"`
}

// PrunePolicy controls idle-container cleanup.
type PrunePolicy struct {
	IdleHours  int `json:"idleHours"`
	MaxAgeDays int `json:"maxAgeDays"`
}

// ExecDefaults are the agent's baseline exec gates.
type ExecDefaults struct {
	Host        string         `json:"host"`        // sandbox | gateway | node
	Security    string         `json:"security"`    // deny | allowlist | full
	Ask         string         `json:"ask"`         // off | on-miss | always
	AskFallback string         `json:"askFallback"` // deny | allowlist | full
	PathPrepend []string       `json:"pathPrepend"`
	Elevated    ElevatedConfig `json:"elevated"`
}

// ElevatedConfig gates elevated (host-privileged) execs.
type ElevatedConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedProviders []string `json:"allowedProviders"`
}

// ToolPolicySpec is an allow/deny pair; empty allow means "no restriction".
type ToolPolicySpec struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// ToolsConfig is the global tool policy plus subagent restrictions.
type ToolsConfig struct {
	Allow    []string        `json:"allow"`
	Deny     []string        `json:"deny"`
	Subagent *ToolPolicySpec `json:"subagent"`
}

// RoutingConfig selects the default agent and carries per-agent overrides.
type RoutingConfig struct {
	DefaultAgent string                   `json:"defaultAgent"`
	MainKey      string                   `json:"mainKey"`
	Agents       map[string]*RoutingAgent `json:"agents"`
}

// RoutingAgent overrides parts of an agent definition from the routing
// layer. Sandbox tools here replace (not merge with) the agent's own.
type RoutingAgent struct {
	Sandbox *struct {
		Tools *ToolPolicySpec `json:"tools"`
	} `json:"sandbox"`
}

// SessionDefaults seed new session entries.
type SessionDefaults struct {
	QueueDebounceMs int    `json:"queueDebounceMs"`
	QueueCap        int    `json:"queueCap"`
	QueueDrop       string `json:"queueDrop"` // oldest | newest | reject
	GroupActivation string `json:"groupActivation"`
}

// HeartbeatConfig configures the periodic agent wake.
type HeartbeatConfig struct {
	Enabled     bool               `json:"enabled"`
	IntervalMs  int                `json:"intervalMs"`
	Prompt      string             `json:"prompt"`
	ActiveHours *ActiveHoursConfig `json:"activeHours"`
}

// ActiveHoursConfig restricts when the heartbeat fires.
type ActiveHoursConfig struct {
	Start    string `json:"start"` // "HH:MM"
	End      string `json:"end"`   // "HH:MM"
	Timezone string `json:"timezone"`
}

// ProviderConfig holds one model backend's credentials and defaults.
type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase"`
	Model   string `json:"model"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint"`
	Protocol    string            `json:"protocol"` // grpc | http
	Insecure    bool              `json:"insecure"`
	ServiceName string            `json:"serviceName"`
	Headers     map[string]string `json:"headers"`
}

// DefaultStateDir returns ~/.clawdbot (or the fallback under the cwd when
// the home dir cannot be resolved).
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawdbot"
	}
	return filepath.Join(home, ".clawdbot")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultStateDir(), "clawdbot.json5")
}

// Default returns a config with defaults applied, for running without a
// config file on disk.
func Default(path string) *Config {
	cfg := &Config{Path: path, StateDir: filepath.Dir(path)}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the json5 config file at path, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Path = path
	cfg.StateDir = filepath.Dir(path)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 18789
	}
	if c.Agents == nil {
		c.Agents = map[string]*AgentConfig{}
	}
	if c.Routing.DefaultAgent == "" {
		c.Routing.DefaultAgent = DefaultAgentID
	}
	if c.Routing.MainKey == "" {
		c.Routing.MainKey = "main"
	}
	if _, ok := c.Agents[c.Routing.DefaultAgent]; !ok {
		c.Agents[c.Routing.DefaultAgent] = &AgentConfig{}
	}
	for id, ag := range c.Agents {
		if ag == nil {
			c.Agents[id] = &AgentConfig{}
			ag = c.Agents[id]
		}
		if ag.Workspace == "" {
			ag.Workspace = filepath.Join(c.StateDir, "workspace", id)
		}
		if ag.Sandbox.Mode == "" {
			ag.Sandbox.Mode = SandboxOff
		}
		if ag.Sandbox.Scope == "" {
			ag.Sandbox.Scope = "agent"
		}
		if ag.Sandbox.WorkspaceAccess == "" {
			ag.Sandbox.WorkspaceAccess = "rw"
		}
		if ag.Exec.Host == "" {
			ag.Exec.Host = "gateway"
		}
	}
	if c.Session.QueueDrop == "" {
		c.Session.QueueDrop = "oldest"
	}
	if c.Session.QueueCap == 0 {
		c.Session.QueueCap = 16
	}
	if c.Session.GroupActivation == "" {
		c.Session.GroupActivation = "mention"
	}
	if c.Heartbeat.IntervalMs == 0 {
		c.Heartbeat.IntervalMs = int((30 * 60 * 1000))
	}
}

// Apply copies the reloadable sections of next over c. Sections swap
// wholesale, so a reader holding a map or slice from before the reload
// keeps a consistent view. Gateway listen address and auth stay fixed
// until restart.
func (c *Config) Apply(next *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = next.Agents
	c.Routing = next.Routing
	c.Tools = next.Tools
	c.Session = next.Session
	c.Heartbeat = next.Heartbeat
	c.Providers = next.Providers
	c.Gateway.AllowedOrigins = next.Gateway.AllowedOrigins
	c.Gateway.RateLimitRPM = next.Gateway.RateLimitRPM
}

// DefaultAgent returns the routing default agent id.
func (c *Config) DefaultAgent() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Routing.DefaultAgent
}

// Provider returns the settings for a model backend, if configured.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pc, ok := c.Providers[name]
	return pc, ok && pc != nil
}

// SessionDefaults returns the session queue defaults.
func (c *Config) SessionDefaults() SessionDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Session
}

// GlobalTools returns the global tool policy section.
func (c *Config) GlobalTools() ToolsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tools
}

// AllowedOrigins returns the hub origin allowlist.
func (c *Config) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gateway.AllowedOrigins
}

// Agent returns the config for an agent id, falling back to the default
// agent when the id is unknown.
func (c *Config) Agent(id string) *AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentLocked(id)
}

func (c *Config) agentLocked(id string) *AgentConfig {
	if ag, ok := c.Agents[NormalizeAgentID(id)]; ok {
		return ag
	}
	return c.Agents[c.Routing.DefaultAgent]
}

// SandboxTools returns the effective sandbox tool policy for an agent:
// the routing override replaces the agent's own sandbox tools entirely
// when present.
func (c *Config) SandboxTools(id string) *ToolPolicySpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ra, ok := c.Routing.Agents[NormalizeAgentID(id)]; ok && ra != nil && ra.Sandbox != nil && ra.Sandbox.Tools != nil {
		return ra.Sandbox.Tools
	}
	return c.agentLocked(id).Sandbox.Tools
}
