package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/clawdbot/clawdbot/internal/providers"
	"github.com/clawdbot/clawdbot/internal/tracing"
)

// turnTrace groups the spans of one turn under a shared trace id. All
// methods are nil-safe so the orchestrator can call them unconditionally.
type turnTrace struct {
	c          *tracing.Collector
	traceID    uuid.UUID
	runSpanID  uuid.UUID
	agentID    string
	sessionKey string
	runID      string
	started    time.Time
}

func (o *Orchestrator) beginTrace(agentID, sessionKey, runID string) *turnTrace {
	if o.tracer == nil {
		return nil
	}
	return &turnTrace{
		c:          o.tracer,
		traceID:    uuid.New(),
		runSpanID:  uuid.New(),
		agentID:    agentID,
		sessionKey: sessionKey,
		runID:      runID,
		started:    time.Now(),
	}
}

func (t *turnTrace) llmSpan(provider, model string, resp *providers.ChatResponse, started time.Time) {
	if t == nil {
		return
	}
	span := tracing.SpanData{
		TraceID:      t.traceID,
		ParentSpanID: &t.runSpanID,
		SpanType:     tracing.SpanTypeLLM,
		Name:         "llm " + model,
		AgentID:      t.agentID,
		SessionKey:   t.sessionKey,
		Model:        model,
		Provider:     provider,
		DurationMS:   int(time.Since(started).Milliseconds()),
		StartTime:    started,
		Status:       "ok",
	}
	if resp != nil {
		span.InputTokens = resp.Usage.PromptTokens
		span.OutputTokens = resp.Usage.CompletionTokens
		span.FinishReason = resp.FinishReason
		span.OutputPreview = resp.Content
	}
	t.c.EmitSpan(span)
}

func (t *turnTrace) toolSpan(name, callID, output string, isErr bool, started time.Time) {
	if t == nil {
		return
	}
	status := "ok"
	errMsg := ""
	if isErr {
		status = "error"
		errMsg = output
	}
	t.c.EmitSpan(tracing.SpanData{
		TraceID:       t.traceID,
		ParentSpanID:  &t.runSpanID,
		SpanType:      tracing.SpanTypeTool,
		Name:          "tool " + name,
		AgentID:       t.agentID,
		SessionKey:    t.sessionKey,
		ToolName:      name,
		ToolCallID:    callID,
		DurationMS:    int(time.Since(started).Milliseconds()),
		OutputPreview: output,
		Status:        status,
		Error:         errMsg,
		StartTime:     started,
	})
}

func (t *turnTrace) finish(text string, err error) {
	if t == nil {
		return
	}
	span := tracing.SpanData{
		ID:            t.runSpanID,
		TraceID:       t.traceID,
		SpanType:      tracing.SpanTypeRun,
		Name:          "run " + t.runID,
		AgentID:       t.agentID,
		SessionKey:    t.sessionKey,
		DurationMS:    int(time.Since(t.started).Milliseconds()),
		OutputPreview: text,
		Status:        "ok",
		StartTime:     t.started,
	}
	if err != nil {
		span.Status = "error"
		span.Error = err.Error()
	}
	t.c.EmitSpan(span)
}
