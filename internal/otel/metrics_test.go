package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
)

func TestNewMetrics_AllInstruments(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.CommandsEnqueued == nil || m.SafetyRejections == nil || m.CommandWait == nil ||
		m.PollTimeouts == nil || m.DebugAttempts == nil || m.RunTasks == nil ||
		m.ActiveRuns == nil || m.AgentCallDuration == nil || m.MemoriesExtracted == nil ||
		m.RequestDuration == nil {
		t.Fatalf("expected every instrument to be set: %+v", m)
	}

	ctx := context.Background()
	m.CommandsEnqueued.Add(ctx, 1)
	m.DebugAttempts.Add(ctx, 1, metric.WithAttributes(AttrTier.String("pattern")))
	m.CommandWait.Record(ctx, 1.5)
	m.ActiveRuns.Add(ctx, 1)
	m.ActiveRuns.Add(ctx, -1)
}

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics()
	m.RunTasks.Add(context.Background(), 1)
}
