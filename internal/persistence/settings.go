package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DebugModeAuto reports whether failed commands on a project are routed to
// auto-debug. Projects without a settings row default to true.
func (s *Store) DebugModeAuto(ctx context.Context, projectID string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT debug_mode_auto FROM project_settings WHERE project_id = ?;`, projectID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("select project settings: %w", err)
	}
	return v != 0, nil
}

func (s *Store) SetDebugModeAuto(ctx context.Context, projectID string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_settings (project_id, debug_mode_auto, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(project_id) DO UPDATE SET
			debug_mode_auto = excluded.debug_mode_auto,
			updated_at = CURRENT_TIMESTAMP;
	`, projectID, v)
	if err != nil {
		return fmt.Errorf("upsert project settings: %w", err)
	}
	return nil
}
