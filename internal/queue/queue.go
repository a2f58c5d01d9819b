// Package queue is the durable hand-off between agents and the engine relay.
// Submissions go through the code filter, land as pending rows, and callers
// poll for a terminal status.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/scenecrew/internal/audit"
	"github.com/basket/scenecrew/internal/bus"
	otelPkg "github.com/basket/scenecrew/internal/otel"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/safety"
	"github.com/basket/scenecrew/internal/shared"
)

var (
	// ErrCommandNotFound is returned for unknown command ids.
	ErrCommandNotFound = errors.New("command not found")
	// ErrPollTimeout means the wait budget ran out before the relay
	// reported a result. The command may still finish later.
	ErrPollTimeout = errors.New("timed out waiting for relay")
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollAttempts = 15
	defaultRecentLimit  = 20
)

// Config wires a Queue.
type Config struct {
	Store        *persistence.Store
	Bus          *bus.Bus
	Filter       *safety.Filter
	PollInterval time.Duration
	PollAttempts int
	RecentLimit  int
	Metrics      *otelPkg.Metrics
	Logger       *slog.Logger
}

type Queue struct {
	store   *persistence.Store
	bus     *bus.Bus
	filter  *safety.Filter
	metrics *otelPkg.Metrics
	logger  *slog.Logger

	mu           sync.RWMutex
	pollInterval time.Duration
	pollAttempts int
	recentLimit  int
}

func New(cfg Config) *Queue {
	q := &Queue{
		store:   cfg.Store,
		bus:     cfg.Bus,
		filter:  cfg.Filter,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if q.filter == nil {
		q.filter = safety.NewFilter()
	}
	if q.metrics == nil {
		q.metrics = otelPkg.NoopMetrics()
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	q.SetPolling(cfg.PollInterval, cfg.PollAttempts)
	q.recentLimit = cfg.RecentLimit
	if q.recentLimit <= 0 {
		q.recentLimit = defaultRecentLimit
	}
	return q
}

// SetPolling updates the wait budget. Non-positive values restore defaults.
func (q *Queue) SetPolling(interval time.Duration, attempts int) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	q.mu.Lock()
	q.pollInterval = interval
	q.pollAttempts = attempts
	q.mu.Unlock()
}

func (q *Queue) polling() (time.Duration, int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.pollInterval, q.pollAttempts
}

// Enqueue stores code as a pending command. It never waits for execution.
func (q *Queue) Enqueue(ctx context.Context, projectID, code, submittedBy string) (string, error) {
	if projectID == "" {
		return "", &shared.ValidationError{Field: "project_id"}
	}
	if code == "" {
		return "", &shared.ValidationError{Field: "code"}
	}
	id, err := q.store.EnqueueCommand(ctx, projectID, code, submittedBy)
	if err != nil {
		return "", fmt.Errorf("enqueue command: %w", err)
	}
	audit.Record(ctx, audit.DecisionAccept, "queue.enqueue", fmt.Sprintf("%d chars", len(code)), projectID+"/"+submittedBy)
	q.metrics.CommandsEnqueued.Add(ctx, 1, metric.WithAttributes(otelPkg.AttrAgent.String(submittedBy)))
	if err := q.store.LogEvent(ctx, projectID, "code_queued", submittedBy,
		fmt.Sprintf("Code queued for engine execution (%d chars)", len(code))); err != nil {
		q.logger.Warn("event log write failed", "command_id", id, "error", err)
	}
	q.logger.Info("command enqueued", "command_id", id, "project_id", projectID, "agent", submittedBy)
	return id, nil
}

// Submit runs code through the safety filter and enqueues it. A rejected
// script returns a *safety.RejectionError and inserts nothing.
func (q *Queue) Submit(ctx context.Context, projectID, code, submittedBy string) (string, error) {
	if v := q.filter.Scan(code); !v.OK {
		audit.Record(ctx, audit.DecisionReject, "queue.enqueue", v.Reason, projectID+"/"+submittedBy)
		q.metrics.SafetyRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", v.Rule)))
		q.logger.Warn("submission rejected", "project_id", projectID, "agent", submittedBy, "rule", v.Rule)
		return "", v.Err()
	}
	return q.Enqueue(ctx, projectID, code, submittedBy)
}

// PollStatus reads the command's current state. It has no side effects.
func (q *Queue) PollStatus(ctx context.Context, commandID string) (*persistence.ExecutionCommand, error) {
	cmd, err := q.store.GetCommand(ctx, commandID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("poll command %s: %w", commandID, err)
	}
	return cmd, nil
}

// ListRecent returns a project's latest commands, newest first.
func (q *Queue) ListRecent(ctx context.Context, projectID string, limit int) ([]persistence.ExecutionCommand, error) {
	if limit <= 0 {
		limit = q.recentLimit
	}
	return q.store.ListCommands(ctx, projectID, limit)
}

// ClaimNextPending moves the oldest pending command to executing. It
// returns (nil, nil) when the queue is empty.
func (q *Queue) ClaimNextPending(ctx context.Context) (*persistence.ExecutionCommand, error) {
	return q.store.ClaimNextPending(ctx)
}

func (q *Queue) MarkSucceeded(ctx context.Context, commandID, result, screenshotURL string) error {
	return q.store.MarkCommandSucceeded(ctx, commandID, result, screenshotURL)
}

func (q *Queue) MarkFailed(ctx context.Context, commandID, errorLog string) error {
	return q.store.MarkCommandFailed(ctx, commandID, errorLog)
}
