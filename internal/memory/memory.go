// Package memory turns agent replies into durable per-agent memories and
// renders them back into prompt context.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/scenecrew/internal/bus"
	otelPkg "github.com/basket/scenecrew/internal/otel"
	"github.com/basket/scenecrew/internal/persistence"
)

const (
	defaultRecallLimit = 20
	defaultTeamLimit   = 30
	searchLimit        = 20
	perTypeInContext   = 5
)

// Store is the subset of persistence the extractor needs.
type Store interface {
	SaveMemory(ctx context.Context, m persistence.AgentMemory) (int64, error)
	ListAgentMemories(ctx context.Context, projectID, agent string, limit int) ([]persistence.AgentMemory, error)
	ListTeamMemories(ctx context.Context, projectID string, limit int) ([]persistence.AgentMemory, error)
	SearchMemories(ctx context.Context, projectID, query string, limit int) ([]persistence.AgentMemory, error)
}

type Config struct {
	Store   Store
	Bus     *bus.Bus
	Limits  Limits
	Metrics *otelPkg.Metrics
	Logger  *slog.Logger
}

type Extractor struct {
	store   Store
	bus     *bus.Bus
	limits  Limits
	metrics *otelPkg.Metrics
	logger  *slog.Logger
}

func New(cfg Config) *Extractor {
	x := &Extractor{
		store:   cfg.Store,
		bus:     cfg.Bus,
		limits:  cfg.Limits.withDefaults(),
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if x.metrics == nil {
		x.metrics = otelPkg.NoopMetrics()
	}
	if x.logger == nil {
		x.logger = slog.Default()
	}
	return x
}

// ExtractAndSave persists the memories found in output and publishes one
// memory.created event per record. Failures are logged and returned; the
// caller's turn is never aborted by them. Records saved before a failure
// stay saved.
func (x *Extractor) ExtractAndSave(ctx context.Context, projectID, agentName, output, prompt string) (int, error) {
	records := ExtractWith(agentName, output, prompt, x.limits)
	saved := 0
	var errs []error
	for _, r := range records {
		_, err := x.store.SaveMemory(ctx, persistence.AgentMemory{
			ProjectID:  projectID,
			Agent:      agentName,
			MemoryType: r.Type,
			Content:    r.Content,
			Context:    r.Context,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("save %s memory: %w", r.Type, err))
			continue
		}
		saved++
		x.metrics.MemoriesExtracted.Add(ctx, 1, metric.WithAttributes(otelPkg.AttrAgent.String(agentName)))
		x.bus.Publish(bus.TopicMemoryCreated, bus.MemoryEvent{
			ProjectID:  projectID,
			Agent:      agentName,
			MemoryType: string(r.Type),
		})
	}
	if err := errors.Join(errs...); err != nil {
		x.logger.Warn("memory extraction incomplete", "project_id", projectID, "agent", agentName, "saved", saved, "error", err)
		return saved, err
	}
	return saved, nil
}

// Recall returns an agent's memories, newest first.
func (x *Extractor) Recall(ctx context.Context, projectID, agentName string, limit int) ([]persistence.AgentMemory, error) {
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	return x.store.ListAgentMemories(ctx, projectID, agentName, limit)
}

// TeamRecall returns every agent's memories for the project, newest first.
func (x *Extractor) TeamRecall(ctx context.Context, projectID string, limit int) ([]persistence.AgentMemory, error) {
	if limit <= 0 {
		limit = defaultTeamLimit
	}
	return x.store.ListTeamMemories(ctx, projectID, limit)
}

// Search matches query against memory content and context.
func (x *Extractor) Search(ctx context.Context, projectID, query string) ([]persistence.AgentMemory, error) {
	return x.store.SearchMemories(ctx, projectID, query, searchLimit)
}

// ContextFor renders an agent's recent memories as a prompt block. A read
// failure yields an empty block.
func (x *Extractor) ContextFor(ctx context.Context, projectID, agentName string) string {
	records, err := x.Recall(ctx, projectID, agentName, 0)
	if err != nil {
		x.logger.Warn("memory recall failed", "project_id", projectID, "agent", agentName, "error", err)
		return ""
	}
	return BuildContext(records)
}

// BuildContext groups memories by type in first-seen order and keeps five
// lines per type. No memories yields "".
func BuildContext(records []persistence.AgentMemory) string {
	if len(records) == 0 {
		return ""
	}
	var order []persistence.MemoryType
	grouped := make(map[persistence.MemoryType][]string)
	for _, m := range records {
		if _, ok := grouped[m.MemoryType]; !ok {
			order = append(order, m.MemoryType)
		}
		grouped[m.MemoryType] = append(grouped[m.MemoryType], fmt.Sprintf("- %s (%s)", m.Content, m.Context))
	}

	var b strings.Builder
	b.WriteString("\n=== YOUR MEMORIES ===\n")
	b.WriteString("You remember from previous conversations:\n")
	for _, t := range order {
		items := grouped[t]
		if len(items) > perTypeInContext {
			items = items[:perTypeInContext]
		}
		fmt.Fprintf(&b, "\n[%sS]\n", strings.ToUpper(string(t)))
		b.WriteString(strings.Join(items, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
