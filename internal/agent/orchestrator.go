// Package agent runs chat turns: one logical worker per session key
// pulls coalesced submissions off a bounded queue, calls the model, and
// dispatches tool calls through the policy layer.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawdbot/clawdbot/internal/config"
	"github.com/clawdbot/clawdbot/internal/history"
	"github.com/clawdbot/clawdbot/internal/providers"
	"github.com/clawdbot/clawdbot/internal/sessions"
	"github.com/clawdbot/clawdbot/internal/tools"
	"github.com/clawdbot/clawdbot/internal/tracing"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

const (
	maxToolIterations = 12
	historyWindow     = 40
)

// Broadcaster pushes events to connected chat clients. The hub
// implements it.
type Broadcaster interface {
	Broadcast(event string, payload protocol.Value)
}

// activeRun tracks a running turn so chat.abort can cancel it.
type activeRun struct {
	runID      string
	sessionKey string
	cancel     context.CancelFunc
	startedAt  time.Time
}

// Orchestrator serializes turns per session key and owns the queues.
type Orchestrator struct {
	cfg      *config.Config
	store    *sessions.Store
	history  *history.Store
	registry *tools.Registry
	events   Broadcaster
	guard    *InputGuard
	tracer   *tracing.Collector

	// providerFor is swappable in tests.
	providerFor func(name string) (providers.Provider, error)

	mu     sync.Mutex
	queues map[string]*sessionQueue
	agents map[string]string // session key → agent id

	runs sync.Map // runID → *activeRun

	// onWake fires after a system event lands, so the heartbeat can run
	// ahead of schedule.
	onWake func()
}

func NewOrchestrator(cfg *config.Config, store *sessions.Store, hist *history.Store, registry *tools.Registry, events Broadcaster) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		history:  hist,
		registry: registry,
		events:   events,
		guard:    NewInputGuard(),
		queues:   make(map[string]*sessionQueue),
		agents:   make(map[string]string),
	}
	o.providerFor = o.providerFromConfig
	return o
}

// SetWake registers the heartbeat wake hook.
func (o *Orchestrator) SetWake(fn func()) { o.onWake = fn }

// SetTracer attaches the span collector. Nil disables tracing.
func (o *Orchestrator) SetTracer(c *tracing.Collector) { o.tracer = c }

// SetProviderFactory overrides model provider resolution.
func (o *Orchestrator) SetProviderFactory(fn func(name string) (providers.Provider, error)) {
	o.providerFor = fn
}

func (o *Orchestrator) providerFromConfig(name string) (providers.Provider, error) {
	var s providers.Settings
	if pc, ok := o.cfg.Provider(name); ok {
		s = providers.Settings{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model}
	}
	return providers.New(name, s)
}

// Submit enqueues a chat message for the session. The returned error
// reflects queue admission only; turn results arrive as chat events.
func (o *Orchestrator) Submit(ctx context.Context, agentID, sessionKey, message, runID string) error {
	return o.submit(agentID, sessionKey, message, runID, "user")
}

// EnqueueSystem records a system event (exec exit notifications and the
// like) into the session and wakes the heartbeat.
func (o *Orchestrator) EnqueueSystem(sessionKey, text string) {
	agentID := o.agentFor(sessionKey)
	if err := o.submit(agentID, sessionKey, text, uuid.NewString(), "system"); err != nil {
		slog.Warn("system event dropped", "sessionKey", sessionKey, "error", err)
	}
	if o.onWake != nil {
		o.onWake()
	}
}

func (o *Orchestrator) submit(agentID, sessionKey, message, runID, role string) error {
	if ContainsNullBytes(message) {
		return fmt.Errorf("message contains null bytes")
	}
	if hits := o.guard.Scan(message); len(hits) > 0 {
		slog.Warn("injection patterns in inbound message",
			"sessionKey", sessionKey, "patterns", strings.Join(hits, ","))
	}
	if agentID == "" {
		agentID = o.cfg.DefaultAgent()
	}
	agentID = config.NormalizeAgentID(agentID)

	entry, err := o.store.GetOrCreate(sessionKey, chatTypeForKey(sessionKey), uuid.NewString)
	if err != nil {
		return fmt.Errorf("session lookup: %w", err)
	}

	// Inline directives update the session before the turn.
	message, directive := stripModelDirective(message)
	if directive != nil {
		if err := o.applyDirective(sessionKey, directive); err != nil {
			return err
		}
		if strings.TrimSpace(message) == "" {
			o.emitChat(runID, sessionKey, protocol.ChatStateFinal, directive.ack(), "")
			return nil
		}
	}

	if role == "user" && !o.groupActive(entry, message, agentID) {
		slog.Debug("group message ignored", "sessionKey", sessionKey,
			"activation", entry.GroupActivation)
		return nil
	}

	q := o.queueFor(sessionKey, agentID, entry)
	return q.push(queuedMessage{
		RunID:      runID,
		Role:       role,
		Content:    message,
		EnqueuedAt: time.Now(),
	})
}

// Abort cancels runs by id or by session key; returns the cancelled ids.
func (o *Orchestrator) Abort(sessionKey, runID string) []string {
	var aborted []string
	o.runs.Range(func(key, val any) bool {
		run := val.(*activeRun)
		if runID != "" && run.runID != runID {
			return true
		}
		if sessionKey != "" && run.sessionKey != sessionKey {
			return true
		}
		run.cancel()
		o.runs.Delete(key)
		aborted = append(aborted, run.runID)
		return true
	})
	return aborted
}

// queueFor returns (creating on demand) the session's queue with its
// effective policy: session overrides over config defaults.
func (o *Orchestrator) queueFor(sessionKey, agentID string, entry *sessions.Entry) *sessionQueue {
	defaults := o.cfg.SessionDefaults()
	policy := queuePolicy{
		DebounceMs: defaults.QueueDebounceMs,
		Cap:        defaults.QueueCap,
		Drop:       defaults.QueueDrop,
	}
	if entry.QueueDebounceMs != nil {
		policy.DebounceMs = *entry.QueueDebounceMs
	}
	if entry.QueueCap != nil {
		policy.Cap = *entry.QueueCap
	}
	if entry.QueueDrop != nil {
		policy.Drop = *entry.QueueDrop
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents[sessionKey] = agentID
	q, ok := o.queues[sessionKey]
	if !ok {
		q = newSessionQueue(policy, func() { o.runTurn(sessionKey) })
		o.queues[sessionKey] = q
	} else {
		q.setPolicy(policy)
	}
	return q
}

func (o *Orchestrator) agentFor(sessionKey string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.agents[sessionKey]; ok {
		return id
	}
	return o.cfg.DefaultAgent()
}

// groupActive applies the activation mode for group sessions: "off"
// drops everything, "mention" requires the agent to be addressed.
func (o *Orchestrator) groupActive(entry *sessions.Entry, message, agentID string) bool {
	if entry.ChatType != sessions.ChatGroup {
		return true
	}
	activation := entry.GroupActivation
	if activation == "" {
		activation = o.cfg.SessionDefaults().GroupActivation
	}
	switch activation {
	case "off":
		return false
	case "any":
		return true
	default: // mention
		return strings.Contains(strings.ToLower(message), "@"+strings.ToLower(agentID))
	}
}

// runTurn is the queue fire callback: drain, run, emit, repeat.
func (o *Orchestrator) runTurn(sessionKey string) {
	o.mu.Lock()
	q := o.queues[sessionKey]
	agentID := o.agents[sessionKey]
	o.mu.Unlock()
	if q == nil {
		return
	}
	defer q.done()

	items, ok := q.drain()
	if !ok {
		return
	}

	// Coalesced submissions share the first run id.
	runID := items[0].RunID
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run := &activeRun{runID: runID, sessionKey: sessionKey, cancel: cancel, startedAt: time.Now()}
	o.runs.Store(runID, run)
	defer o.runs.Delete(runID)

	o.history.BeginRun(ctx, history.Run{RunID: runID, SessionKey: sessionKey, AgentID: agentID})
	status := "completed"
	if _, err := o.turn(ctx, agentID, sessionKey, runID, items); err != nil {
		status = "failed"
		if ctx.Err() != nil {
			status = "aborted"
		}
		slog.Warn("turn failed", "sessionKey", sessionKey, "runId", runID, "error", err)
		o.emitChat(runID, sessionKey, protocol.ChatStateFinal, "Error: "+err.Error(), "")
	}
	o.history.FinishRun(context.Background(), runID, status)
}

// RunSync runs one turn outside the queue and returns the final
// assistant text. The heartbeat uses it on its own session key.
func (o *Orchestrator) RunSync(ctx context.Context, agentID, sessionKey, message, runID string) (string, error) {
	if agentID == "" {
		agentID = o.cfg.DefaultAgent()
	}
	if _, err := o.store.GetOrCreate(sessionKey, sessions.ChatDirect, uuid.NewString); err != nil {
		return "", err
	}
	o.history.BeginRun(ctx, history.Run{RunID: runID, SessionKey: sessionKey, AgentID: agentID})
	text, err := o.turn(ctx, agentID, sessionKey, runID, []queuedMessage{{
		RunID: runID, Role: "user", Content: message, EnqueuedAt: time.Now(),
	}})
	status := "completed"
	if err != nil {
		status = "failed"
	}
	o.history.FinishRun(context.Background(), runID, status)
	return text, err
}

// turn builds the transcript, calls the model, and loops tool calls
// until a final assistant message.
func (o *Orchestrator) turn(ctx context.Context, agentID, sessionKey, runID string, items []queuedMessage) (text string, err error) {
	tr := o.beginTrace(agentID, sessionKey, runID)
	defer func() { tr.finish(text, err) }()

	agentCfg := o.cfg.Agent(agentID)
	entry, err := o.store.Lookup(sessionKey)
	if err != nil {
		return "", err
	}

	providerName, model := o.resolveModel(agentCfg, entry)
	prov, err := o.providerFor(providerName)
	if err != nil {
		return "", fmt.Errorf("resolve provider %q: %w", providerName, err)
	}

	msgs := []providers.Message{{Role: "system", Content: o.systemPrompt(agentID, agentCfg)}}
	past, err := o.history.Messages(ctx, sessionKey, historyWindow)
	if err == nil {
		for _, m := range past {
			msgs = append(msgs, providers.Message{Role: m.Role, Content: m.Content, Name: m.ToolName})
		}
	}
	for _, item := range items {
		msgs = append(msgs, providers.Message{Role: item.Role, Content: item.Content})
		o.history.Append(ctx, history.Message{
			SessionKey: sessionKey, RunID: runID, Role: item.Role, Content: item.Content,
		})
	}

	sandboxed := agentCfg.Sandbox.Mode == config.SandboxAll ||
		(agentCfg.Sandbox.Mode == config.SandboxNonMain && agentID != o.cfg.DefaultAgent())
	subagent := strings.Contains(sessionKey, ":subagent:")
	policy := tools.PolicyFor(o.cfg, agentID, sandboxed, subagent)
	defs := o.registry.ProviderDefs(policy)

	for iter := 0; iter < maxToolIterations; iter++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		llmStart := time.Now()
		resp, err := prov.ChatStream(ctx, providers.ChatRequest{
			Model:    model,
			Messages: msgs,
			Tools:    defs,
		}, func(chunk providers.StreamChunk) {
			if chunk.Content != "" {
				o.emitChat(runID, sessionKey, protocol.ChatStateStreaming, chunk.Content, "")
			}
		})
		if err != nil {
			return "", err
		}
		tr.llmSpan(providerName, model, resp, llmStart)

		if len(resp.ToolCalls) == 0 {
			o.history.Append(ctx, history.Message{
				SessionKey: sessionKey, RunID: runID, Role: "assistant", Content: resp.Content,
			})
			o.emitChat(runID, sessionKey, protocol.ChatStateFinal, resp.Content, "")
			return resp.Content, nil
		}

		msgs = append(msgs, providers.Message{
			Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			output := o.runTool(ctx, policy, call, sessionKey, runID, tr)
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    output,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
			o.history.Append(ctx, history.Message{
				SessionKey: sessionKey, RunID: runID, Role: "tool",
				Content: output, ToolName: call.Function.Name,
			})
		}
	}
	return "", fmt.Errorf("tool iteration limit reached (%d)", maxToolIterations)
}

// runTool admits the call through the policy layer and executes it.
func (o *Orchestrator) runTool(ctx context.Context, policy *tools.Policy, call providers.ToolCall, sessionKey, runID string, tr *turnTrace) string {
	name := call.Function.Name
	o.emitChat(runID, sessionKey, protocol.ChatStateTool, "", name)

	if !policy.Allows(name) {
		slog.Warn("tool denied by policy", "tool", name, "sessionKey", sessionKey)
		return fmt.Sprintf("Tool %q is not permitted for this session.", name)
	}

	args, err := decodeToolArgs(call.Function.Arguments)
	if err != nil {
		return "Invalid tool arguments: " + err.Error()
	}
	started := time.Now()
	result := o.registry.ExecuteWithContext(ctx, name, args, "ws", "", "", sessionKey, nil)
	tr.toolSpan(name, call.ID, result.ForLLM, result.IsError, started)
	if result.IsError {
		return "Tool error: " + result.ForLLM
	}
	return result.ForLLM
}

func (o *Orchestrator) resolveModel(agentCfg *config.AgentConfig, entry *sessions.Entry) (provider, model string) {
	provider = agentCfg.Provider
	model = agentCfg.Model
	if entry != nil && entry.ModelOverride != "" {
		model = entry.ModelOverride
		if entry.ProviderOverride != "" {
			provider = entry.ProviderOverride
		}
	}
	return provider, model
}

func (o *Orchestrator) systemPrompt(agentID string, agentCfg *config.AgentConfig) string {
	var sb strings.Builder
	sb.WriteString("You are agent ")
	sb.WriteString(agentID)
	sb.WriteString(" on a chatbot gateway. Workspace: ")
	sb.WriteString(agentCfg.Workspace)
	sb.WriteString(".\nUse the available tools when a request needs them. Keep replies concise.")
	return sb.String()
}

func (o *Orchestrator) emitChat(runID, sessionKey, state, text, toolName string) {
	if o.events == nil {
		return
	}
	o.events.Broadcast(protocol.EventChat, protocol.NewValue(protocol.ChatEvent{
		RunID:      runID,
		SessionKey: sessionKey,
		State:      state,
		Text:       text,
		ToolName:   toolName,
	}))
}

// chatTypeForKey infers the chat type from the session key surface
// segment (agent:<id>:<surface>:<type>:<peer> or the short main form).
func chatTypeForKey(key string) sessions.ChatType {
	parts := strings.Split(key, ":")
	for _, p := range parts {
		switch p {
		case string(sessions.ChatGroup):
			return sessions.ChatGroup
		case string(sessions.ChatChannel):
			return sessions.ChatChannel
		}
	}
	return sessions.ChatDirect
}
