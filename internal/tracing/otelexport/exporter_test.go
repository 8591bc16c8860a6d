package otelexport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/clawdbot/clawdbot/internal/tracing"
)

func TestSpanIDFromUUID(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	sid := spanIDFromUUID(id)
	if sid == (trace.SpanID{}) {
		t.Fatal("zero span ID")
	}
	for i := 0; i < 8; i++ {
		if sid[i] != id[8+i] {
			t.Errorf("byte %d = %02x, want %02x", i, sid[i], id[8+i])
		}
	}

	other := uuid.MustParse("550e8400-e29b-41d4-b827-557766550001")
	if spanIDFromUUID(other) == sid {
		t.Error("distinct UUIDs mapped to the same span ID")
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestNilExporterIsNoop(t *testing.T) {
	var exp *Exporter
	exp.ExportSpans(context.Background(), []tracing.SpanData{{
		ID:        uuid.New(),
		TraceID:   uuid.New(),
		SpanType:  tracing.SpanTypeLLM,
		Name:      "test",
		StartTime: time.Now(),
	}})
	if err := exp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil exporter: %v", err)
	}
}
