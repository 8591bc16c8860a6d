// Package tracing collects run and tool spans emitted by the agent
// orchestrator. Spans are buffered in memory and handed to an optional
// external exporter (OTLP) in batches.
package tracing

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1000
	previewMaxLen        = 500
)

// Span types emitted by the orchestrator.
const (
	SpanTypeRun  = "run"
	SpanTypeLLM  = "llm_call"
	SpanTypeTool = "tool_exec"
)

// SpanData is one traced unit of work. TraceID groups the spans of a
// single run.
type SpanData struct {
	ID            uuid.UUID
	TraceID       uuid.UUID
	ParentSpanID  *uuid.UUID
	SpanType      string
	Name          string
	AgentID       string
	SessionKey    string
	Model         string
	Provider      string
	InputTokens   int
	OutputTokens  int
	FinishReason  string
	ToolName      string
	ToolCallID    string
	DurationMS    int
	InputPreview  string
	OutputPreview string
	Status        string // ok | error
	Error         string
	StartTime     time.Time
	EndTime       *time.Time
	CreatedAt     time.Time
}

// SpanExporter is implemented by backends that receive flushed spans
// (e.g. OpenTelemetry OTLP). Keeping this as an interface lets the OTel
// dependency live in a separate sub-package behind a build tag.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []SpanData)
	Shutdown(ctx context.Context) error
}

// Stats summarizes collector activity since start.
type Stats struct {
	Emitted int64 `json:"emitted"`
	Dropped int64 `json:"dropped"`
	Flushed int64 `json:"flushed"`
}

// Collector buffers spans and flushes them on an interval. Without an
// exporter attached it only keeps counters; attaching one turns on
// external export without touching the emit path.
type Collector struct {
	spanCh chan SpanData
	stopCh chan struct{}
	wg     sync.WaitGroup

	emitted atomic.Int64
	dropped atomic.Int64
	flushed atomic.Int64

	verbose  bool // when true, LLM spans include full input previews
	exporter SpanExporter
}

// NewCollector creates a tracing collector.
// Set CLAWDBOT_TRACE_VERBOSE=1 to include full LLM input in spans.
func NewCollector() *Collector {
	verbose := os.Getenv("CLAWDBOT_TRACE_VERBOSE") != ""
	if verbose {
		slog.Info("tracing: verbose mode enabled (CLAWDBOT_TRACE_VERBOSE)")
	}
	return &Collector{
		spanCh:  make(chan SpanData, defaultBufferSize),
		stopCh:  make(chan struct{}),
		verbose: verbose,
	}
}

// Verbose reports whether full LLM input logging is enabled.
func (c *Collector) Verbose() bool { return c.verbose }

// SetExporter attaches an external span exporter. Spans are exported
// during each flush cycle.
func (c *Collector) SetExporter(exp SpanExporter) {
	c.exporter = exp
}

// Stats returns collector counters for health reporting.
func (c *Collector) Stats() Stats {
	return Stats{
		Emitted: c.emitted.Load(),
		Dropped: c.dropped.Load(),
		Flushed: c.flushed.Load(),
	}
}

// Start begins the background flush loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.flushLoop()
	slog.Info("tracing collector started")
}

// Stop shuts down the collector, flushing remaining spans.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()

	if c.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.exporter.Shutdown(ctx); err != nil {
			slog.Warn("tracing: span exporter shutdown failed", "error", err)
		}
	}

	slog.Info("tracing collector stopped")
}

// EmitSpan enqueues a span for the next flush.
// Non-blocking: drops the span if the buffer is full.
func (c *Collector) EmitSpan(span SpanData) {
	if span.ID == uuid.Nil {
		span.ID = uuid.New()
	}
	if span.CreatedAt.IsZero() {
		span.CreatedAt = time.Now().UTC()
	}
	span.InputPreview = truncatePreview(span.InputPreview)
	span.OutputPreview = truncatePreview(span.OutputPreview)

	select {
	case c.spanCh <- span:
		c.emitted.Add(1)
	default:
		c.dropped.Add(1)
		slog.Warn("tracing: span buffer full, dropping span",
			"span_type", span.SpanType, "name", span.Name)
	}
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	var spans []SpanData
	for {
		select {
		case span := <-c.spanCh:
			spans = append(spans, span)
		default:
			goto done
		}
	}
done:

	if len(spans) == 0 {
		return
	}
	c.flushed.Add(int64(len(spans)))

	if c.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.exporter.ExportSpans(ctx, spans)
	}
	slog.Debug("tracing: flushed spans", "count", len(spans))
}

// truncatePreview sanitizes and truncates a string to previewMaxLen bytes.
func truncatePreview(s string) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= previewMaxLen {
		return s
	}
	maxLen := previewMaxLen
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
