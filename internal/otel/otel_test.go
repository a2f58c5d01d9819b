package otel

import (
	"context"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected noop tracer and meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none", SampleRate: 0.5})
	if err != nil {
		t.Fatalf("Init with none exporter: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.TracerProvider == nil {
		t.Fatal("expected non-nil TracerProvider")
	}
	_, span := StartSpan(context.Background(), p.Tracer, "queue.submit", AttrProjectID.String("p1"))
	span.End()
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestShutdown_NilProvider(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil provider shutdown: %v", err)
	}
}
