package persistence

import (
	"context"
	"fmt"
	"slices"
	"time"
)

type TurnType string

const (
	TurnDiscussion   TurnType = "discussion"
	TurnCritique     TurnType = "critique"
	TurnConsultation TurnType = "consultation"
	TurnProgress     TurnType = "progress"
	TurnSystem       TurnType = "system"
)

// ChatTurn is one message in a project's conversation history.
type ChatTurn struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	Agent     string    `json:"agent"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	TurnType  TurnType  `json:"turn_type"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is one row of the durable event log.
type LogEntry struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	EventType string    `json:"event_type"`
	Agent     string    `json:"agent,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func validTurnType(t TurnType) bool {
	switch t {
	case TurnDiscussion, TurnCritique, TurnConsultation, TurnProgress, TurnSystem:
		return true
	}
	return false
}

// AddChat appends a conversation-history message.
func (s *Store) AddChat(ctx context.Context, projectID, agent, title, content string, turnType TurnType) error {
	if !validTurnType(turnType) {
		return fmt.Errorf("invalid turn type %q", turnType)
	}
	return retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chat_turns (project_id, agent, title, content, turn_type, created_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, projectID, agent, title, content, turnType)
		if err != nil {
			return fmt.Errorf("insert chat turn: %w", err)
		}
		return nil
	})
}

// ListChat returns the latest limit messages in chronological order.
func (s *Store) ListChat(ctx context.Context, projectID string, limit int) ([]ChatTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, agent, title, content, turn_type, created_at
		FROM chat_turns
		WHERE project_id = ?
		ORDER BY id DESC
		LIMIT ?;
	`, projectID, clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, fmt.Errorf("query chat turns: %w", err)
	}
	defer rows.Close()

	var out []ChatTurn
	for rows.Next() {
		var c ChatTurn
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Agent, &c.Title, &c.Content, &c.TurnType, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		out = append(out, c)
	}
	slices.Reverse(out)
	return out, rows.Err()
}

// LogEvent appends to the durable event log.
func (s *Store) LogEvent(ctx context.Context, projectID, eventType, agent, detail string) error {
	return retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO event_log (project_id, event_type, agent, detail, created_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, projectID, eventType, agent, detail)
		if err != nil {
			return fmt.Errorf("insert event log: %w", err)
		}
		return nil
	})
}

// ListEvents returns the latest limit event-log entries in chronological
// order. An empty eventType matches every type.
func (s *Store) ListEvents(ctx context.Context, projectID, eventType string, limit int) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, event_type, agent, detail, created_at
		FROM event_log
		WHERE project_id = ? AND (? = '' OR event_type = ?)
		ORDER BY id DESC
		LIMIT ?;
	`, projectID, eventType, eventType, clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EventType, &e.Agent, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event log: %w", err)
		}
		out = append(out, e)
	}
	slices.Reverse(out)
	return out, rows.Err()
}
