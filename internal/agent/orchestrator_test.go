package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clawdbot/clawdbot/internal/config"
	"github.com/clawdbot/clawdbot/internal/history"
	"github.com/clawdbot/clawdbot/internal/providers"
	"github.com/clawdbot/clawdbot/internal/sessions"
	"github.com/clawdbot/clawdbot/internal/tools"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	requests  []providers.ChatRequest
	responses []*providers.ChatResponse
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, fmt.Errorf("scripted provider exhausted")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil && resp.Content != "" {
		onChunk(providers.StreamChunk{Content: resp.Content})
		onChunk(providers.StreamChunk{Done: true})
	}
	return resp, nil
}

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// eventRecorder captures broadcast chat events.
type eventRecorder struct {
	mu     sync.Mutex
	events []protocol.ChatEvent
}

func (r *eventRecorder) Broadcast(event string, payload protocol.Value) {
	if event != protocol.EventChat {
		return
	}
	ce, ok := payload.Any().(protocol.ChatEvent)
	if !ok {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, ce)
	r.mu.Unlock()
}

func (r *eventRecorder) waitForFinal(t *testing.T) protocol.ChatEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, e := range r.events {
			if e.State == protocol.ChatStateFinal {
				r.mu.Unlock()
				return e
			}
		}
		r.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no final chat event")
	return protocol.ChatEvent{}
}

func (r *eventRecorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.State
	}
	return out
}

func testOrchestrator(t *testing.T, prov *scriptedProvider) (*Orchestrator, *eventRecorder, *history.Store) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Agents: map[string]*config.AgentConfig{
			"main": {Workspace: dir, Provider: "scripted", Model: "test-model"},
		},
		Routing: config.RoutingConfig{DefaultAgent: "main", MainKey: "main"},
		Session: config.SessionDefaults{QueueCap: 8, QueueDrop: "oldest"},
	}
	cfg.StateDir = dir

	store := sessions.NewStore(filepath.Join(dir, "sessions.json"), "main", "main")
	hist, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	rec := &eventRecorder{}
	o := NewOrchestrator(cfg, store, hist, tools.NewRegistry(), rec)
	o.SetProviderFactory(func(string) (providers.Provider, error) { return prov, nil })
	return o, rec, hist
}

func TestOrchestrator_SimpleTurn(t *testing.T) {
	prov := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hi there", FinishReason: "stop"},
	}}
	o, rec, hist := testOrchestrator(t, prov)

	key := sessions.BuildSessionKey("main", "ws", sessions.ChatDirect, "tester")
	if err := o.Submit(context.Background(), "main", key, "hello", "run-1"); err != nil {
		t.Fatal(err)
	}

	final := rec.waitForFinal(t)
	if final.Text != "hi there" {
		t.Errorf("final text = %q", final.Text)
	}
	if final.RunID != "run-1" {
		t.Errorf("runId = %q", final.RunID)
	}

	msgs, err := hist.Messages(context.Background(), key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("history roles = %+v", msgs)
	}
}

type staticTool struct {
	name   string
	output string
	calls  int
	mu     sync.Mutex
}

func (s *staticTool) Name() string        { return s.name }
func (s *staticTool) Description() string { return "static" }
func (s *staticTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (s *staticTool) Execute(context.Context, map[string]interface{}) *tools.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return tools.NewResult(s.output)
}

func TestOrchestrator_ToolCallLoop(t *testing.T) {
	prov := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{
			ID:   "call-1",
			Type: "function",
			Function: providers.ToolCallFunction{
				Name:      "clock",
				Arguments: "{}",
			},
		}}},
		{Content: "it is noon", FinishReason: "stop"},
	}}
	o, rec, _ := testOrchestrator(t, prov)

	clock := &staticTool{name: "clock", output: "12:00"}
	o.registry.Register(clock)

	key := sessions.BuildSessionKey("main", "ws", sessions.ChatDirect, "tester")
	if err := o.Submit(context.Background(), "main", key, "what time is it", "run-2"); err != nil {
		t.Fatal(err)
	}

	final := rec.waitForFinal(t)
	if final.Text != "it is noon" {
		t.Errorf("final = %q", final.Text)
	}
	if clock.calls != 1 {
		t.Errorf("tool calls = %d, want 1", clock.calls)
	}

	// The second model call must carry the tool result.
	if prov.requestCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", prov.requestCount())
	}
	second := prov.request(1)
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.Content != "12:00" {
		t.Errorf("tool feedback message = %+v", last)
	}

	found := false
	for _, s := range rec.states() {
		if s == protocol.ChatStateTool {
			found = true
		}
	}
	if !found {
		t.Error("no tool state event emitted")
	}
}

func TestOrchestrator_PolicyDeniesTool(t *testing.T) {
	prov := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{
			ID:       "call-1",
			Type:     "function",
			Function: providers.ToolCallFunction{Name: "forbidden", Arguments: "{}"},
		}}},
		{Content: "cannot do that", FinishReason: "stop"},
	}}
	o, rec, _ := testOrchestrator(t, prov)
	o.cfg.Tools.Deny = []string{"forbidden"}

	banned := &staticTool{name: "forbidden", output: "secret"}
	o.registry.Register(banned)

	key := sessions.BuildSessionKey("main", "ws", sessions.ChatDirect, "tester")
	if err := o.Submit(context.Background(), "main", key, "run it", "run-3"); err != nil {
		t.Fatal(err)
	}
	rec.waitForFinal(t)

	if banned.calls != 0 {
		t.Errorf("denied tool executed %d times", banned.calls)
	}
	second := prov.request(1)
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.Content == "secret" {
		t.Errorf("denied tool leaked output: %+v", last)
	}
}

func TestOrchestrator_ModelDirective(t *testing.T) {
	prov := &scriptedProvider{}
	o, rec, _ := testOrchestrator(t, prov)

	key := sessions.BuildSessionKey("main", "ws", sessions.ChatDirect, "tester")
	if err := o.Submit(context.Background(), "main", key, "model=scripted/other-model", "run-4"); err != nil {
		t.Fatal(err)
	}
	final := rec.waitForFinal(t)
	if final.Text == "" {
		t.Error("expected directive acknowledgement")
	}

	entry, err := o.store.Lookup(key)
	if err != nil || entry == nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry.ProviderOverride != "scripted" || entry.ModelOverride != "other-model" {
		t.Errorf("override = %q/%q", entry.ProviderOverride, entry.ModelOverride)
	}

	// Reset clears provider, model, and auth profile together.
	o.store.Mutate(key, func(e *sessions.Entry) { e.AuthProfileOverride = "profile-x" })
	if err := o.Submit(context.Background(), "main", key, "model=default", "run-5"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	entry, _ = o.store.Lookup(key)
	if entry.ModelOverride != "" || entry.ProviderOverride != "" || entry.AuthProfileOverride != "" {
		t.Errorf("reset left overrides: %+v", entry)
	}
}

func TestOrchestrator_GroupActivationOff(t *testing.T) {
	prov := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "should not run"},
	}}
	o, _, _ := testOrchestrator(t, prov)

	key := sessions.BuildSessionKey("main", "ws", sessions.ChatGroup, "room-9")
	if _, err := o.store.GetOrCreate(key, sessions.ChatGroup, func() string { return "sid" }); err != nil {
		t.Fatal(err)
	}
	o.store.Mutate(key, func(e *sessions.Entry) { e.GroupActivation = "off" })

	if err := o.Submit(context.Background(), "main", key, "hello room", "run-6"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	if prov.requestCount() != 0 {
		t.Errorf("activation=off still ran a turn")
	}
}

func TestOrchestrator_NullBytesRejected(t *testing.T) {
	prov := &scriptedProvider{}
	o, _, _ := testOrchestrator(t, prov)
	key := sessions.BuildSessionKey("main", "ws", sessions.ChatDirect, "tester")
	if err := o.Submit(context.Background(), "main", key, "bad\x00input", "run-7"); err == nil {
		t.Error("null bytes should be rejected")
	}
}

func TestOrchestrator_Abort(t *testing.T) {
	o, _, _ := testOrchestrator(t, &scriptedProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	o.runs.Store("run-x", &activeRun{runID: "run-x", sessionKey: "agent:main:ws:dm:a", cancel: cancel})

	aborted := o.Abort("", "run-x")
	if len(aborted) != 1 || aborted[0] != "run-x" {
		t.Errorf("aborted = %v", aborted)
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("abort did not cancel the run context")
	}
}
