package tools

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clawdbot/clawdbot/internal/providers"
)

// Registry holds the tool set an agent can call. Tool instances are
// immutable; per-call state travels through the context, so one registry
// serves concurrent sessions.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	rateLimiter *ToolRateLimiter // nil disables limiting
	scrubbing   bool
}

func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		scrubbing: true,
	}
}

// SetRateLimiter enables per-session-key execution limits.
func (r *Registry) SetRateLimiter(rl *ToolRateLimiter) { r.rateLimiter = rl }

// SetScrubbing toggles credential scrubbing of tool output.
func (r *Registry) SetScrubbing(enabled bool) { r.scrubbing = enabled }

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	r.tools[tool.Name()] = tool
	r.mu.Unlock()
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a tool without any call context.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	return r.ExecuteWithContext(ctx, name, args, "", "", "", "", nil)
}

// ExecuteWithContext runs a tool with channel/chat/session identity and an
// optional async completion callback injected into ctx.
func (r *Registry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID, peerKind, sessionKey string, asyncCB AsyncCallback) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult("unknown tool: " + name)
	}

	ctx = injectCallContext(ctx, channel, chatID, peerKind, sessionKey, asyncCB)

	if r.rateLimiter != nil && sessionKey != "" {
		if err := r.rateLimiter.Allow(sessionKey); err != nil {
			return ErrorResult(err.Error())
		}
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	if r.scrubbing {
		scrubResult(result)
	}

	slog.Debug("tool executed",
		"tool", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"is_error", result.IsError,
		"async", result.Async,
	)
	return result
}

// injectCallContext attaches the non-empty identity values to ctx. Empty
// values stay absent so FromCtx lookups report them as unset.
func injectCallContext(ctx context.Context, channel, chatID, peerKind, sessionKey string, asyncCB AsyncCallback) context.Context {
	if channel != "" {
		ctx = WithToolChannel(ctx, channel)
	}
	if chatID != "" {
		ctx = WithToolChatID(ctx, chatID)
	}
	if peerKind != "" {
		ctx = WithToolPeerKind(ctx, peerKind)
	}
	if sessionKey != "" {
		ctx = WithToolSandboxKey(ctx, sessionKey)
	}
	if asyncCB != nil {
		ctx = WithToolAsyncCB(ctx, asyncCB)
	}
	return ctx
}

// scrubResult redacts credentials in place. Secrets never travel back to
// the model or the user surface.
func scrubResult(result *Result) {
	if result.ForLLM != "" {
		result.ForLLM = ScrubCredentials(result.ForLLM)
	}
	if result.ForUser != "" {
		result.ForUser = ScrubCredentials(result.ForUser)
	}
}

// ProviderDefs describes the registered tools for a model provider API,
// filtered through the given policy when one applies.
func (r *Registry) ProviderDefs(policy *Policy) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for name, tool := range r.tools {
		if policy != nil && !policy.Allows(name) {
			continue
		}
		defs = append(defs, ToProviderDef(tool))
	}
	return defs
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clone copies the registry for a subagent. Tools, the rate limiter, and
// the scrubbing flag are shared; registrations diverge after the copy.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &Registry{
		tools:       make(map[string]Tool, len(r.tools)),
		rateLimiter: r.rateLimiter,
		scrubbing:   r.scrubbing,
	}
	for name, tool := range r.tools {
		clone.tools[name] = tool
	}
	return clone
}
