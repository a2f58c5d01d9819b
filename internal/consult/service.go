package consult

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/bus"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/shared"
)

const (
	seedChars   = 500
	detailChars = 1000
)

// MemorySink receives consultant replies. Replies are only scanned for
// memories; they never trigger another consultation.
type MemorySink interface {
	ExtractAndSave(ctx context.Context, projectID, agentName, output, prompt string) (int, error)
}

type Config struct {
	Store  *persistence.Store
	Caller agent.Caller
	Bus    *bus.Bus
	Memory MemorySink
	Logger *slog.Logger
}

type Service struct {
	store  *persistence.Store
	caller agent.Caller
	bus    *bus.Bus
	memory MemorySink
	logger *slog.Logger
}

func New(cfg Config) *Service {
	s := &Service{
		store:  cfg.Store,
		caller: cfg.Caller,
		bus:    cfg.Bus,
		memory: cfg.Memory,
		logger: cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AfterTurn checks one agent reply and, when a rule fires, runs a single
// consultation round. Inside a consultation (depth >= 1) it does nothing.
// It returns the opened session, or nil when nothing was triggered.
// Consultant failures go to the event log and are not returned.
func (s *Service) AfterTurn(ctx context.Context, projectID, agentName, output, projectContext string) (*persistence.ConsultationSession, error) {
	if shared.ConsultDepth(ctx) >= 1 {
		return nil, nil
	}
	trig := ShouldConsult(agentName, output)
	if !trig.Yes {
		return nil, nil
	}
	initiator := agent.Canonical(agentName)
	consultants := Consultants(initiator, trig)
	if len(consultants) == 0 {
		return nil, nil
	}

	session := persistence.ConsultationSession{
		ID:        shared.NewID(),
		ProjectID: projectID,
		Initiator: initiator,
		Target:    trig.Target,
		Topic:     trig.Topic,
		Seed:      shared.Truncate(output, seedChars),
	}
	if err := s.store.CreateConsultation(ctx, session); err != nil {
		return nil, fmt.Errorf("open consultation: %w", err)
	}
	s.bus.Publish(bus.TopicConsultOpened, bus.ConsultEvent{
		SessionID:   session.ID,
		ProjectID:   projectID,
		Initiator:   initiator,
		Topic:       trig.Topic,
		Consultants: consultants,
	})

	s.chat(ctx, projectID, initiator, fmt.Sprintf("**Consultation Request**: %s\n\n%s", trig.Topic, session.Seed))
	s.event(ctx, projectID, "thinking", initiator, "Requesting consultation on: "+trig.Topic)

	cctx := shared.WithConsultDepth(agent.WithPurpose(ctx, agent.PurposeConsult), 1)
	details := shared.Truncate(output, detailChars)

	// Responses are written as they arrive; a failed consultant never
	// cancels the others.
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(maxConsultants)
	for _, name := range consultants {
		g.Go(func() error {
			s.event(cctx, projectID, "api_call", name, "Consulting on: "+trig.Topic)
			prompt := consultPrompt(initiator, name, trig.Topic, details)
			reply, err := s.caller.Call(cctx, name, prompt, projectContext)
			if err != nil {
				s.event(cctx, projectID, "error", name, "Consultation failed: "+err.Error())
				return nil
			}
			if s.memory != nil {
				if _, err := s.memory.ExtractAndSave(cctx, projectID, name, reply, prompt); err != nil {
					s.logger.Warn("memory extraction failed", "project_id", projectID, "agent", name, "error", err)
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if err := s.store.AddConsultationResponse(cctx, session.ID, name, reply); err != nil {
				s.logger.Warn("consultation response write failed", "project_id", projectID, "agent", name, "error", err)
			}
			s.chat(cctx, projectID, name, fmt.Sprintf("**Consultation Response** (re: %s's request):\n\n%s", initiator, reply))
			s.event(cctx, projectID, "api_ok", name, fmt.Sprintf("Consultation response (%d chars)", len(reply)))
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("consultation finished", "project_id", projectID, "agent", initiator, "topic", trig.Topic, "consultants", consultants)
	return &session, nil
}

func consultPrompt(requestor, consultant, topic, details string) string {
	title := consultant
	if id, ok := agent.Lookup(consultant); ok {
		title = id.Name + " (" + id.Title + ")"
	}
	return fmt.Sprintf(`%s is requesting your consultation on: %q

Details:
%s

As %s, provide your expert input.
Be concise and constructive. If you see issues, explain what should change.
If it looks good, say so and add any suggestions.`, requestor, topic, details, title)
}

func (s *Service) chat(ctx context.Context, projectID, who, content string) {
	title := ""
	if id, ok := agent.Lookup(who); ok {
		title = id.Title
	}
	if err := s.store.AddChat(ctx, projectID, who, title, content, persistence.TurnConsultation); err != nil {
		s.logger.Warn("history write failed", "project_id", projectID, "agent", who, "error", err)
	}
}

func (s *Service) event(ctx context.Context, projectID, eventType, who, detail string) {
	if err := s.store.LogEvent(ctx, projectID, eventType, who, detail); err != nil {
		s.logger.Warn("event log write failed", "project_id", projectID, "agent", who, "error", err)
	}
}
