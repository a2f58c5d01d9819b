package persistence

import (
	"context"
	"fmt"
	"time"
)

// ConsultationSession records one triggered peer review between agents.
type ConsultationSession struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Initiator string    `json:"initiator"`
	Target    string    `json:"target"`
	Topic     string    `json:"topic"`
	Seed      string    `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
}

type ConsultationResponse struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Consultant string    `json:"consultant"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) CreateConsultation(ctx context.Context, cs ConsultationSession) error {
	return retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO consultation_sessions (id, project_id, initiator, target, topic, seed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, cs.ID, cs.ProjectID, cs.Initiator, cs.Target, cs.Topic, cs.Seed)
		if err != nil {
			return fmt.Errorf("insert consultation: %w", err)
		}
		return nil
	})
}

func (s *Store) AddConsultationResponse(ctx context.Context, sessionID, consultant, content string) error {
	return retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO consultation_responses (session_id, consultant, content, created_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP);
		`, sessionID, consultant, content)
		if err != nil {
			return fmt.Errorf("insert consultation response: %w", err)
		}
		return nil
	})
}

func (s *Store) ListConsultations(ctx context.Context, projectID string, limit int) ([]ConsultationSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, initiator, target, topic, seed, created_at
		FROM consultation_sessions
		WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?;
	`, projectID, clampLimit(limit, 20, 200))
	if err != nil {
		return nil, fmt.Errorf("query consultations: %w", err)
	}
	defer rows.Close()
	var out []ConsultationSession
	for rows.Next() {
		var cs ConsultationSession
		if err := rows.Scan(&cs.ID, &cs.ProjectID, &cs.Initiator, &cs.Target, &cs.Topic, &cs.Seed, &cs.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan consultation: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *Store) ListConsultationResponses(ctx context.Context, sessionID string) ([]ConsultationResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, consultant, content, created_at
		FROM consultation_responses
		WHERE session_id = ?
		ORDER BY id ASC;
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query consultation responses: %w", err)
	}
	defer rows.Close()
	var out []ConsultationResponse
	for rows.Next() {
		var r ConsultationResponse
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Consultant, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan consultation response: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
