package otel

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the instruments recorded across the build pipeline.
type Metrics struct {
	CommandsEnqueued  metric.Int64Counter
	SafetyRejections  metric.Int64Counter
	CommandWait       metric.Float64Histogram
	PollTimeouts      metric.Int64Counter
	DebugAttempts     metric.Int64Counter
	RunTasks          metric.Int64Counter
	ActiveRuns        metric.Int64UpDownCounter
	AgentCallDuration metric.Float64Histogram
	MemoriesExtracted metric.Int64Counter
	RequestDuration   metric.Float64Histogram
}

// NewMetrics creates all instruments from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.CommandsEnqueued, "scenecrew.command.enqueued", "Commands accepted into the queue"},
		{&m.SafetyRejections, "scenecrew.safety.rejections", "Submissions rejected by the code filter"},
		{&m.PollTimeouts, "scenecrew.command.poll_timeouts", "Waits that exhausted the poll budget"},
		{&m.DebugAttempts, "scenecrew.debug.attempts", "Auto-debug resubmissions by tier"},
		{&m.RunTasks, "scenecrew.run.tasks", "Build run tasks finished by status"},
		{&m.MemoriesExtracted, "scenecrew.memory.extracted", "Memory records persisted"},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.CommandWait, "scenecrew.command.wait.duration", "Time from enqueue to terminal status in seconds"},
		{&m.AgentCallDuration, "scenecrew.agent.call.duration", "Agent call duration in seconds"},
		{&m.RequestDuration, "scenecrew.request.duration", "Gateway request duration in seconds"},
	}
	for _, h := range histograms {
		inst, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	var err error
	m.ActiveRuns, err = meter.Int64UpDownCounter("scenecrew.run.active",
		metric.WithDescription("Build runs currently executing"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NoopMetrics returns instruments that record nothing. Components fall back
// to it when no Metrics are configured.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(ScopeName))
	if err != nil {
		panic(err)
	}
	return m
}
