package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basket/scenecrew/internal/bus"
	"github.com/basket/scenecrew/internal/shared"
)

type RunStatus string

const (
	RunPlanning  RunStatus = "planning"
	RunExecuting RunStatus = "executing"
	RunPaused    RunStatus = "paused"
	RunStopped   RunStatus = "stopped"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Active reports whether the run still occupies its project's single slot.
func (s RunStatus) Active() bool {
	return s == RunPlanning || s == RunExecuting || s == RunPaused
}

var allowedRunTransitions = map[RunStatus]map[RunStatus]struct{}{
	RunPlanning: {
		RunExecuting: {},
		RunFailed:    {},
		RunStopped:   {},
	},
	RunExecuting: {
		RunPaused:    {},
		RunStopped:   {},
		RunCompleted: {},
		RunFailed:    {},
	},
	RunPaused: {
		RunExecuting: {},
		RunStopped:   {},
	},
}

// CanTransitionRun reports whether a run may move from one status to another.
func CanTransitionRun(from, to RunStatus) bool {
	next, ok := allowedRunTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ErrRunActive is returned when a project already has an active run.
var ErrRunActive = errors.New("project already has an active build run")

// BuildRun is the persisted state of one full-project build. PlanJSON is
// owned by the coordinator.
type BuildRun struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	Prompt           string    `json:"prompt"`
	Status           RunStatus `json:"status"`
	PlanJSON         string    `json:"-"`
	CurrentTaskIndex int       `json:"current_task_index"`
	Summary          string    `json:"summary,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const runColumns = `id, project_id, prompt, status, plan_json, current_task_index, COALESCE(summary, ''), created_at, updated_at`

func scanRun(scanFn func(dest ...any) error, r *BuildRun) error {
	return scanFn(&r.ID, &r.ProjectID, &r.Prompt, &r.Status, &r.PlanJSON, &r.CurrentTaskIndex, &r.Summary, &r.CreatedAt, &r.UpdatedAt)
}

func (s *Store) queryRun(ctx context.Context, where string, args ...any) (*BuildRun, error) {
	var r BuildRun
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM build_runs WHERE `+where+` ORDER BY created_at DESC, rowid DESC LIMIT 1;`, args...)
	if err := scanRun(row.Scan, &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select build run: %w", err)
	}
	return &r, nil
}

// CreateRun inserts a run in planning. A project that already has an
// active run gets ErrRunActive.
func (s *Store) CreateRun(ctx context.Context, projectID, prompt string) (*BuildRun, error) {
	id := shared.NewID()
	err := retryOnBusy(ctx, busyRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create run tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var active int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM build_runs WHERE project_id = ? AND status IN (?, ?, ?);
		`, projectID, RunPlanning, RunExecuting, RunPaused).Scan(&active); err != nil {
			return fmt.Errorf("count active runs: %w", err)
		}
		if active > 0 {
			return ErrRunActive
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO build_runs (id, project_id, prompt, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, id, projectID, prompt, RunPlanning); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrRunActive
			}
			return fmt.Errorf("insert build run: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(bus.TopicRunStarted, bus.RunEvent{RunID: id, ProjectID: projectID, Status: string(RunPlanning)})
	return s.GetRun(ctx, id)
}

func (s *Store) GetRun(ctx context.Context, runID string) (*BuildRun, error) {
	return s.queryRun(ctx, `id = ?`, runID)
}

// GetActiveRun returns the project's planning, executing or paused run.
func (s *Store) GetActiveRun(ctx context.Context, projectID string) (*BuildRun, error) {
	return s.queryRun(ctx, `project_id = ? AND status IN (?, ?, ?)`, projectID, RunPlanning, RunExecuting, RunPaused)
}

// GetLatestRun returns the project's most recent run in any status.
func (s *Store) GetLatestRun(ctx context.Context, projectID string) (*BuildRun, error) {
	return s.queryRun(ctx, `project_id = ?`, projectID)
}

// TransitionRun changes a run's status. Only the status (and, when given,
// the summary) is written; concurrent writers are last-write-wins.
func (s *Store) TransitionRun(ctx context.Context, runID string, to RunStatus, summary *string) (RunStatus, error) {
	var from RunStatus
	var projectID string
	err := retryOnBusy(ctx, busyRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin run transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := tx.QueryRowContext(ctx, `SELECT status, project_id FROM build_runs WHERE id = ?;`, runID).Scan(&from, &projectID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select run for transition: %w", err)
		}
		if !CanTransitionRun(from, to) {
			return fmt.Errorf("%w: run %s %s -> %s", ErrIllegalTransition, runID, from, to)
		}
		sum := sql.NullString{}
		if summary != nil {
			sum = sql.NullString{String: *summary, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE build_runs
			SET status = ?,
				summary = CASE WHEN ? THEN ? ELSE summary END,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, to, sum.Valid, sum.String, runID); err != nil {
			return fmt.Errorf("update run status: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	s.bus.Publish(bus.TopicRunStateChanged, bus.RunEvent{RunID: runID, ProjectID: projectID, Status: string(to)})
	return from, nil
}

// SaveRunProgress persists the plan and advances current_task_index. The
// index never moves backwards.
func (s *Store) SaveRunProgress(ctx context.Context, runID, planJSON string, taskIndex int) error {
	return retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE build_runs
			SET plan_json = ?,
				current_task_index = MAX(current_task_index, ?),
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, planJSON, taskIndex, runID)
		if err != nil {
			return fmt.Errorf("update run progress: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListStaleActiveRuns returns planning or executing runs not updated within
// olderThan. Paused runs are left alone.
func (s *Store) ListStaleActiveRuns(ctx context.Context, olderThan time.Duration) ([]BuildRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM build_runs
		WHERE status IN (?, ?) AND updated_at <= datetime('now', ?)
		ORDER BY updated_at ASC;
	`, RunPlanning, RunExecuting, fmt.Sprintf("-%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("query stale runs: %w", err)
	}
	defer rows.Close()
	var out []BuildRun
	for rows.Next() {
		var r BuildRun
		if err := scanRun(rows.Scan, &r); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRuns returns a project's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, projectID string, limit int) ([]BuildRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM build_runs
		WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?;
	`, projectID, clampLimit(limit, 20, 200))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []BuildRun
	for rows.Next() {
		var r BuildRun
		if err := scanRun(rows.Scan, &r); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetRunSummary overwrites the summary without touching the status. It is
// used for runs that were stopped while their loop was still finishing.
func (s *Store) SetRunSummary(ctx context.Context, runID, summary string) error {
	return retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE build_runs SET summary = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, summary, runID)
		if err != nil {
			return fmt.Errorf("update run summary: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
