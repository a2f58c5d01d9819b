package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type MemoryType string

const (
	MemoryDecision   MemoryType = "decision"
	MemoryTask       MemoryType = "task"
	MemoryLearning   MemoryType = "learning"
	MemoryPreference MemoryType = "preference"
)

// AgentMemory is a durable fact an agent carries across turns. Records are
// never updated or deleted.
type AgentMemory struct {
	ID         int64      `json:"id"`
	ProjectID  string     `json:"project_id"`
	Agent      string     `json:"agent"`
	MemoryType MemoryType `json:"memory_type"`
	Content    string     `json:"content"`
	Context    string     `json:"context"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SaveMemory appends one memory record.
func (s *Store) SaveMemory(ctx context.Context, m AgentMemory) (int64, error) {
	var id int64
	err := retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_memories (project_id, agent, memory_type, content, context, created_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, m.ProjectID, m.Agent, m.MemoryType, m.Content, m.Context)
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func scanMemoryRows(rows *sql.Rows) ([]AgentMemory, error) {
	defer rows.Close()
	var out []AgentMemory
	for rows.Next() {
		var m AgentMemory
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Agent, &m.MemoryType, &m.Content, &m.Context, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const memoryColumns = `id, project_id, agent, memory_type, content, context, created_at`

// ListAgentMemories returns one agent's memories, newest first.
func (s *Store) ListAgentMemories(ctx context.Context, projectID, agent string, limit int) ([]AgentMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM agent_memories
		WHERE project_id = ? AND agent = ?
		ORDER BY id DESC
		LIMIT ?;
	`, projectID, agent, clampLimit(limit, 20, 500))
	if err != nil {
		return nil, fmt.Errorf("query agent memories: %w", err)
	}
	return scanMemoryRows(rows)
}

// ListTeamMemories returns memories of every agent on a project, newest first.
func (s *Store) ListTeamMemories(ctx context.Context, projectID string, limit int) ([]AgentMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM agent_memories
		WHERE project_id = ?
		ORDER BY id DESC
		LIMIT ?;
	`, projectID, clampLimit(limit, 30, 500))
	if err != nil {
		return nil, fmt.Errorf("query team memories: %w", err)
	}
	return scanMemoryRows(rows)
}

// SearchMemories matches query against content or context, case-insensitively
// for ASCII, newest first.
func (s *Store) SearchMemories(ctx context.Context, projectID, query string, limit int) ([]AgentMemory, error) {
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM agent_memories
		WHERE project_id = ? AND (content LIKE ? OR context LIKE ?)
		ORDER BY id DESC
		LIMIT ?;
	`, projectID, like, like, clampLimit(limit, 20, 200))
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return scanMemoryRows(rows)
}
