package execsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clawdbot/clawdbot/internal/approvals"
	"github.com/clawdbot/clawdbot/internal/config"
)

// Exec hosts.
const (
	HostSandbox = "sandbox"
	HostGateway = "gateway"
	HostNode    = "node"
)

// Result statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Denial reasons. Every gate failure names the gate that rejected it.
const (
	ReasonElevatedNotAvailable = "elevated-not-available"
	ReasonHostNotAllowed       = "host-not-allowed"
	ReasonSecurityDeny         = "security=deny"
	ReasonAllowlistMiss        = "allowlist-miss"
	ReasonApprovalTimeout      = "approval-timeout"
	ReasonUserDenied           = "user-denied"
	ReasonNodeNotPaired        = "node-not-paired"
	ReasonCommandTimedOut      = "command-timed-out"
	ReasonExitNonZero          = "command-exited-non-zero"
)

// Yield and timeout bounds.
const (
	defaultYield   = 10 * time.Second
	minYield       = 10 * time.Millisecond
	maxYield       = 120 * time.Second
	defaultTimeout = 1800 * time.Second
	killGrace      = 1 * time.Second
)

// Params are the inputs to one exec invocation.
type Params struct {
	Command    string
	Workdir    string
	Env        map[string]string
	YieldMs    int
	Background bool
	TimeoutSec int
	PTY        bool
	Elevated   bool
	Host       string // sandbox | gateway | node; empty uses the agent default
	Security   string
	Ask        string
	Node       string // requested node id for host=node

	AgentID      string
	SessionKey   string
	Provider     string // model provider driving this call (elevated gate)
	NotifyOnExit bool
}

// Result is the outcome of an exec invocation.
type Result struct {
	Status       string `json:"status"`
	SessionID    string `json:"sessionId,omitempty"`
	ExitCode     int    `json:"exitCode"`
	Output       string `json:"output,omitempty"`
	Tail         string `json:"tail,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
	Backgrounded bool   `json:"backgrounded,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// GateError is a denial from the gating pipeline; Reason names the gate.
type GateError struct {
	Reason  string
	Message string
}

func (e *GateError) Error() string {
	if e.Message == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Message
}

func denied(reason, format string, args ...any) *GateError {
	return &GateError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// NodeRunner routes host=node execs to a paired peer.
type NodeRunner interface {
	// ResolveNode picks the target node: the requested id when given,
	// otherwise the single connected node. Errors when no node is paired
	// or the choice is ambiguous.
	ResolveNode(requested string) (nodeID, platform string, err error)
	// HasCommand reports whether the node declared the command.
	HasCommand(nodeID, command string) bool
	// Invoke forwards a command and waits for the correlated result.
	Invoke(ctx context.Context, nodeID, command string, params any, timeoutMs int) (json.RawMessage, error)
}

// NotifyFunc enqueues a system event for a session and wakes the
// heartbeat.
type NotifyFunc func(sessionKey, text string)

// Executor runs the gate pipeline and owns spawned exec sessions.
type Executor struct {
	cfg      *config.Config
	store    *approvals.Store
	registry *Registry
	nodes    NodeRunner
	notify   NotifyFunc
	onUpdate func(Update)
}

// New creates an executor. nodes and notify may be nil.
func New(cfg *config.Config, store *approvals.Store, nodes NodeRunner, notify NotifyFunc) *Executor {
	return &Executor{
		cfg:      cfg,
		store:    store,
		registry: NewRegistry(),
		nodes:    nodes,
		notify:   notify,
	}
}

// Registry exposes the exec session registry (process tool, RPC).
func (e *Executor) Registry() *Registry { return e.registry }

// SetNotify registers the exit notification sink after construction,
// for wiring cycles where the consumer is built later.
func (e *Executor) SetNotify(fn NotifyFunc) { e.notify = fn }

// OnUpdate registers the incremental output callback.
func (e *Executor) OnUpdate(fn func(Update)) { e.onUpdate = fn }

// Exec runs the full gate pipeline and spawns (or forwards) the command.
// Gate denials come back as (*Result with Status=failed, *GateError).
func (e *Executor) Exec(ctx context.Context, p Params) (*Result, error) {
	command := strings.TrimSpace(p.Command)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	p.Command = command

	agentCfg := e.cfg.Agent(p.AgentID)
	execCfg := agentCfg.Exec

	// Gate 1: elevation.
	if p.Elevated {
		if !execCfg.Elevated.Enabled {
			return failResult(ReasonElevatedNotAvailable), denied(ReasonElevatedNotAvailable,
				"elevated exec is disabled for agent %q", p.AgentID)
		}
		if len(execCfg.Elevated.AllowedProviders) > 0 && !contains(execCfg.Elevated.AllowedProviders, p.Provider) {
			return failResult(ReasonElevatedNotAvailable), denied(ReasonElevatedNotAvailable,
				"provider %q is not allow-listed for elevated exec", p.Provider)
		}
		// Elevation forces the gateway host at full security; ask still
		// applies below.
		p.Host = HostGateway
		p.Security = approvals.SecurityFull
	}

	// Gate 2: host allowlist.
	configuredHost := execCfg.Host
	if configuredHost == "" {
		configuredHost = HostGateway
	}
	host := p.Host
	if host == "" {
		host = configuredHost
	}
	if host != configuredHost && !p.Elevated {
		return failResult(ReasonHostNotAllowed), denied(ReasonHostNotAllowed,
			"host %q requested but agent %q is configured for %q", host, p.AgentID, configuredHost)
	}

	// Gates 3+4: compose security and ask against the approvals store.
	resolved, err := e.store.Resolve(p.AgentID, approvals.Defaults{
		Security:    execCfg.Security,
		Ask:         execCfg.Ask,
		AskFallback: execCfg.AskFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve approvals: %w", err)
	}
	security := MinSecurity(resolved.Security, p.Security)
	if p.Elevated {
		security = approvals.SecurityFull
	}
	ask := MaxAsk(resolved.Ask, p.Ask)

	if security == approvals.SecurityDeny {
		return failResult(ReasonSecurityDeny), denied(ReasonSecurityDeny,
			"exec security is deny for agent %q", p.AgentID)
	}

	// Gate 5: workdir resolution.
	cwd := e.resolveWorkdir(host, p.Workdir, agentCfg)

	// Gate 7: node host short-circuits before local spawn.
	if host == HostNode {
		return e.execOnNode(ctx, p, cwd)
	}

	// Gate 6: environment.
	env := e.buildEnv(host, p.Env, execCfg)

	// Gate 8: allowlist / ask (gateway host resolves the executable;
	// sandbox commands are gated on the raw first token).
	res := e.resolveExecutable(host, p.Command, cwd, env)
	if !p.Elevated {
		gateRes, gateErr := e.admit(ctx, p, host, security, ask, resolved, res, cwd)
		if gateErr != nil {
			return gateRes, gateErr
		}
	} else if ask == approvals.AskAlways {
		if gateRes, gateErr := e.askHuman(ctx, p, host, security, resolved, res, cwd); gateErr != nil {
			return gateRes, gateErr
		}
	}

	// Gates 9-11: spawn and lifecycle.
	return e.spawnAndWait(ctx, p, host, agentCfg, cwd, env)
}

// admit enforces the security/ask gate for non-elevated execs.
func (e *Executor) admit(ctx context.Context, p Params, host, security, ask string,
	resolved *approvals.Resolved, res approvals.Resolution, cwd string) (*Result, error) {

	matched := approvals.MatchAllowlist(resolved.Allowlist, res)

	switch security {
	case approvals.SecurityFull:
		if ask == approvals.AskAlways {
			return e.askHuman(ctx, p, host, security, resolved, res, cwd)
		}
		return nil, nil

	case approvals.SecurityAllowlist:
		if matched != nil && ask != approvals.AskAlways {
			e.recordAllowlistUse(p, matched, res)
			return nil, nil
		}
		if ask == approvals.AskOff {
			if matched != nil {
				return nil, nil
			}
			return failResult(ReasonAllowlistMiss), denied(ReasonAllowlistMiss,
				"%q does not match the exec allowlist for agent %q", res.ExecutableName, p.AgentID)
		}
		gateRes, gateErr := e.askHuman(ctx, p, host, security, resolved, res, cwd)
		// An allowlist hit that went through ask=always still counts as a
		// use once the human admits it.
		if gateErr == nil && matched != nil {
			e.recordAllowlistUse(p, matched, res)
		}
		return gateRes, gateErr
	}
	return nil, nil
}

func (e *Executor) recordAllowlistUse(p Params, matched *approvals.AllowlistEntry, res approvals.Resolution) {
	if err := e.store.RecordAllowlistUse(p.AgentID, matched.Pattern, p.Command, res.ResolvedPath); err != nil {
		slog.Warn("record allowlist use failed", "error", err)
	}
}

// askHuman round-trips the approval socket; a null decision falls back
// per askFallback.
func (e *Executor) askHuman(ctx context.Context, p Params, host, security string,
	resolved *approvals.Resolved, res approvals.Resolution, cwd string) (*Result, error) {

	f, err := e.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}

	id := uuid.NewString()
	decision, err := approvals.RequestDecision(ctx, f.Socket, id, approvals.Request{
		Command:      p.Command,
		Cwd:          cwd,
		Host:         host,
		Security:     security,
		Ask:          approvals.AskAlways,
		AgentID:      p.AgentID,
		ResolvedPath: res.ResolvedPath,
		SessionKey:   p.SessionKey,
		TimeoutMs:    60_000,
	})
	if err != nil {
		return nil, err
	}

	switch decision {
	case approvals.DecisionAllowOnce:
		return nil, nil
	case approvals.DecisionAllowAlways:
		pattern := res.ResolvedPath
		if pattern == "" {
			pattern = res.RawExecutable
		}
		if err := e.store.AddAllowlistEntry(p.AgentID, pattern); err != nil {
			slog.Warn("persist allow-always failed", "error", err)
		}
		return nil, nil
	case approvals.DecisionDeny:
		return failResult(ReasonUserDenied), denied(ReasonUserDenied,
			"approval denied for %q", p.Command)
	}

	// Null decision: nobody answered in time.
	switch resolved.AskFallback {
	case approvals.SecurityFull:
		return nil, nil
	case approvals.SecurityAllowlist:
		if approvals.MatchAllowlist(resolved.Allowlist, res) != nil {
			return nil, nil
		}
	}
	return failResult(ReasonApprovalTimeout), denied(ReasonApprovalTimeout,
		"no approval response for %q", p.Command)
}

// execOnNode forwards the command to a paired node via system.run.
func (e *Executor) execOnNode(ctx context.Context, p Params, cwd string) (*Result, error) {
	if e.nodes == nil {
		return failResult(ReasonNodeNotPaired), denied(ReasonNodeNotPaired, "no node transport")
	}
	nodeID, platform, err := e.nodes.ResolveNode(p.Node)
	if err != nil {
		return failResult(ReasonNodeNotPaired), denied(ReasonNodeNotPaired, "%v", err)
	}
	if !e.nodes.HasCommand(nodeID, "system.run") {
		return failResult(ReasonNodeNotPaired), denied(ReasonNodeNotPaired,
			"node %q does not declare system.run", nodeID)
	}

	timeout := p.TimeoutSec
	if timeout <= 0 {
		timeout = int(defaultTimeout / time.Second)
	}
	payload, err := e.nodes.Invoke(ctx, nodeID, "system.run", map[string]any{
		"argv": shellArgv(platform, p.Command),
		"cwd":  cwd,
	}, timeout*1000)
	if err != nil {
		return &Result{Status: StatusFailed, Reason: err.Error()}, err
	}

	out := &Result{Status: StatusCompleted}
	if len(payload) > 0 {
		var body struct {
			Output   string `json:"output"`
			ExitCode int    `json:"exitCode"`
		}
		if jsonErr := json.Unmarshal(payload, &body); jsonErr == nil {
			out.Output = body.Output
			out.ExitCode = body.ExitCode
		}
	}
	if out.ExitCode != 0 {
		out.Status = StatusFailed
		out.Reason = ReasonExitNonZero
	}
	return out, nil
}

// shellArgv builds the platform shell invocation for a command string.
func shellArgv(platform, command string) []string {
	switch platform {
	case "windows":
		if strings.HasPrefix(command, "powershell ") {
			return []string{"powershell", "-NoProfile", "-Command", strings.TrimPrefix(command, "powershell ")}
		}
		return []string{"cmd", "/s", "/c", command}
	default:
		return []string{"sh", "-lc", command}
	}
}

// resolveWorkdir maps the requested workdir for the target host.
// Relative paths resolve against the agent workspace; directories outside
// the workspace are permitted with a warning.
func (e *Executor) resolveWorkdir(host, workdir string, agentCfg *config.AgentConfig) string {
	if host == HostSandbox {
		return sandboxWorkdir(workdir, agentCfg)
	}
	if workdir == "" {
		return agentCfg.Workspace
	}
	if !filepath.IsAbs(workdir) {
		return filepath.Join(agentCfg.Workspace, workdir)
	}
	if rel, err := filepath.Rel(agentCfg.Workspace, workdir); err != nil || strings.HasPrefix(rel, "..") {
		slog.Warn("exec workdir outside workspace", "workdir", workdir, "workspace", agentCfg.Workspace)
	}
	return workdir
}

func failResult(reason string) *Result {
	return &Result{Status: StatusFailed, Reason: reason}
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
