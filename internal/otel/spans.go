package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by scenecrew spans and metrics.
var (
	AttrProjectID = attribute.Key("scenecrew.project.id")
	AttrRunID     = attribute.Key("scenecrew.run.id")
	AttrCommandID = attribute.Key("scenecrew.command.id")
	AttrAgent     = attribute.Key("scenecrew.agent")
	AttrModel     = attribute.Key("scenecrew.llm.model")
	AttrStatus    = attribute.Key("scenecrew.status")
	AttrTier      = attribute.Key("scenecrew.debug.tier")
	AttrRoute     = attribute.Key("scenecrew.http.route")
)

// StartSpan starts an internal span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound gateway request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound agent or engine call.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
