package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type projectIDKey struct{}
type runIDKey struct{}
type agentKey struct{}
type consultDepthKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithProjectID attaches a project_id to the context.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey{}, projectID)
}

// ProjectID extracts project_id from context. Returns "" if absent.
func ProjectID(ctx context.Context) string {
	if v, ok := ctx.Value(projectIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRunID attaches a run_id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID extracts run_id from context. Returns "" if absent.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// NewID generates a new row identifier for commands, runs and sessions.
func NewID() string {
	return uuid.NewString()
}

// WithAgent attaches the speaking agent's name to context.
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentKey{}, agent)
}

// Agent extracts the speaking agent (SystemAgent if absent).
func Agent(ctx context.Context) string {
	if v, ok := ctx.Value(agentKey{}).(string); ok && v != "" {
		return v
	}
	return SystemAgent
}

// WithConsultDepth attaches consultation nesting depth to context.
func WithConsultDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, consultDepthKey{}, depth)
}

// ConsultDepth extracts consultation nesting depth (0 if absent).
func ConsultDepth(ctx context.Context) int {
	if v, ok := ctx.Value(consultDepthKey{}).(int); ok {
		return v
	}
	return 0
}

const SystemAgent = "System"
