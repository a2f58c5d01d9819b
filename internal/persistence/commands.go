package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/basket/scenecrew/internal/bus"
	"github.com/basket/scenecrew/internal/shared"
)

type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandExecuting CommandStatus = "executing"
	CommandSuccess   CommandStatus = "success"
	CommandError     CommandStatus = "error"
)

// Terminal reports whether no further transition is possible.
func (s CommandStatus) Terminal() bool {
	return s == CommandSuccess || s == CommandError
}

// Status only ever moves forward: pending -> executing -> success|error.
var allowedCommandTransitions = map[CommandStatus]map[CommandStatus]struct{}{
	CommandPending: {
		CommandExecuting: {},
	},
	CommandExecuting: {
		CommandSuccess: {},
		CommandError:   {},
	},
}

// ErrIllegalTransition is returned when a status change would regress or
// skip a state. Nothing is written.
var ErrIllegalTransition = errors.New("illegal status transition")

func canTransitionCommand(from, to CommandStatus) bool {
	next, ok := allowedCommandTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ExecutionCommand is one unit of engine code waiting for, or having
// finished, execution by the relay.
type ExecutionCommand struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"project_id"`
	Code          string        `json:"code"`
	Status        CommandStatus `json:"status"`
	Result        string        `json:"result,omitempty"`
	ErrorLog      string        `json:"error_log,omitempty"`
	ScreenshotURL string        `json:"screenshot_url,omitempty"`
	SubmittedBy   string        `json:"submitted_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ClaimedAt     *time.Time    `json:"claimed_at,omitempty"`
	ExecutedAt    *time.Time    `json:"executed_at,omitempty"`
}

// CommandEvent is one row of a command's append-only status history.
type CommandEvent struct {
	EventID   int64         `json:"event_id"`
	CommandID string        `json:"command_id"`
	TraceID   string        `json:"trace_id,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	StateFrom CommandStatus `json:"state_from"`
	StateTo   CommandStatus `json:"state_to"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
}

const commandColumns = `id, project_id, code, status, COALESCE(result, ''), COALESCE(error_log, ''),
	COALESCE(screenshot_url, ''), COALESCE(submitted_by, ''), created_at, claimed_at, executed_at`

func scanCommand(scanFn func(dest ...any) error, c *ExecutionCommand) error {
	var claimed, executed sql.NullTime
	if err := scanFn(
		&c.ID,
		&c.ProjectID,
		&c.Code,
		&c.Status,
		&c.Result,
		&c.ErrorLog,
		&c.ScreenshotURL,
		&c.SubmittedBy,
		&c.CreatedAt,
		&claimed,
		&executed,
	); err != nil {
		return err
	}
	if claimed.Valid {
		t := claimed.Time
		c.ClaimedAt = &t
	}
	if executed.Valid {
		t := executed.Time
		c.ExecutedAt = &t
	}
	return nil
}

func (s *Store) appendCommandEventTx(ctx context.Context, tx *sql.Tx, commandID string, from, to CommandStatus, reason string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO command_events (command_id, trace_id, run_id, state_from, state_to, reason, created_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, CURRENT_TIMESTAMP);
	`, commandID, shared.TraceID(ctx), shared.RunID(ctx), string(from), string(to), reason)
	if err != nil {
		return fmt.Errorf("insert command_event: %w", err)
	}
	return nil
}

// EnqueueCommand inserts a pending command and its first history row in one
// transaction. It never waits on execution.
func (s *Store) EnqueueCommand(ctx context.Context, projectID, code, submittedBy string) (string, error) {
	id := shared.NewID()
	err := retryOnBusy(ctx, busyRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin enqueue tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO commands (id, project_id, code, status, submitted_by, created_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, id, projectID, code, CommandPending, nullString(submittedBy)); err != nil {
			return fmt.Errorf("insert command: %w", err)
		}
		if err := s.appendCommandEventTx(ctx, tx, id, "", CommandPending, "enqueued"); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit enqueue tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.bus.Publish(bus.TopicCommandEnqueued, bus.CommandEvent{CommandID: id, ProjectID: projectID, Status: string(CommandPending)})
	return id, nil
}

// GetCommand is a pure read. Unknown ids return ErrNotFound.
func (s *Store) GetCommand(ctx context.Context, id string) (*ExecutionCommand, error) {
	var c ExecutionCommand
	row := s.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?;`, id)
	if err := scanCommand(row.Scan, &c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select command: %w", err)
	}
	return &c, nil
}

// ListCommands returns a project's most recent commands, newest first.
func (s *Store) ListCommands(ctx context.Context, projectID string, limit int) ([]ExecutionCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commandColumns+`
		FROM commands
		WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?;
	`, projectID, clampLimit(limit, 20, 500))
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var out []ExecutionCommand
	for rows.Next() {
		var c ExecutionCommand
		if err := scanCommand(rows.Scan, &c); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimNextPending moves the oldest pending command to executing and
// returns it. It returns nil, nil when the queue is empty.
func (s *Store) ClaimNextPending(ctx context.Context) (*ExecutionCommand, error) {
	var claimed *ExecutionCommand
	err := retryOnBusy(ctx, busyRetries, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var c ExecutionCommand
		row := tx.QueryRowContext(ctx, `
			SELECT `+commandColumns+`
			FROM commands
			WHERE status = ?
			ORDER BY created_at ASC, rowid ASC
			LIMIT 1;
		`, CommandPending)
		if err := scanCommand(row.Scan, &c); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select pending command: %w", err)
		}
		if _, err := s.transitionCommandTx(ctx, tx, c.ID, CommandExecuting, "claimed", nil, nil); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim tx: %w", err)
		}
		c.Status = CommandExecuting
		claimed = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		s.bus.Publish(bus.TopicCommandClaimed, bus.CommandEvent{CommandID: claimed.ID, ProjectID: claimed.ProjectID, Status: string(CommandExecuting)})
	}
	return claimed, nil
}

// MarkCommandSucceeded records a successful execution.
func (s *Store) MarkCommandSucceeded(ctx context.Context, id, result, screenshotURL string) error {
	return s.finishCommand(ctx, id, CommandSuccess, "executed", &result, nil, screenshotURL)
}

// MarkCommandFailed records a failed execution and its error log.
func (s *Store) MarkCommandFailed(ctx context.Context, id, errorLog string) error {
	return s.finishCommand(ctx, id, CommandError, "execution_failed", nil, &errorLog, "")
}

func (s *Store) finishCommand(ctx context.Context, id string, to CommandStatus, reason string, result, errLog *string, screenshotURL string) error {
	var projectID string
	err := retryOnBusy(ctx, busyRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin finish tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		projectID, err = s.transitionCommandTx(ctx, tx, id, to, reason, result, errLog)
		if err != nil {
			return err
		}
		if screenshotURL != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE commands SET screenshot_url = ? WHERE id = ?;`, screenshotURL, id); err != nil {
				return fmt.Errorf("set screenshot: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit finish tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.bus.Publish(bus.TopicCommandFinished, bus.CommandEvent{CommandID: id, ProjectID: projectID, Status: string(to)})
	return nil
}

// transitionCommandTx moves a command to `to` if the state machine allows it
// from the current status, stamping claimed_at or executed_at. It returns
// the command's project id.
func (s *Store) transitionCommandTx(ctx context.Context, tx *sql.Tx, id string, to CommandStatus, reason string, result, errLog *string) (string, error) {
	var current CommandStatus
	var projectID string
	if err := tx.QueryRowContext(ctx, `SELECT status, project_id FROM commands WHERE id = ?;`, id).Scan(&current, &projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("select command for transition: %w", err)
	}
	if !canTransitionCommand(current, to) {
		return "", fmt.Errorf("%w: command %s %s -> %s", ErrIllegalTransition, id, current, to)
	}

	resValue := sql.NullString{}
	if result != nil {
		resValue = sql.NullString{String: *result, Valid: true}
	}
	errValue := sql.NullString{}
	if errLog != nil {
		errValue = sql.NullString{String: *errLog, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE commands
		SET status = ?,
			result = CASE WHEN ? THEN ? ELSE result END,
			error_log = CASE WHEN ? THEN ? ELSE error_log END,
			claimed_at = CASE WHEN ? = 'executing' THEN CURRENT_TIMESTAMP ELSE claimed_at END,
			executed_at = CASE WHEN ? IN ('success', 'error') THEN CURRENT_TIMESTAMP ELSE executed_at END
		WHERE id = ? AND status = ?;
	`, to, resValue.Valid, resValue.String, errValue.Valid, errValue.String, to, to, id, current)
	if err != nil {
		return "", fmt.Errorf("update command transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("transition rows affected: %w", err)
	}
	if affected != 1 {
		return "", fmt.Errorf("%w: command %s changed concurrently", ErrIllegalTransition, id)
	}
	if err := s.appendCommandEventTx(ctx, tx, id, current, to, reason); err != nil {
		return "", err
	}
	return projectID, nil
}

// ListCommandEvents returns a command's status history, oldest first.
func (s *Store) ListCommandEvents(ctx context.Context, commandID string) ([]CommandEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, command_id, COALESCE(trace_id, ''), COALESCE(run_id, ''),
			COALESCE(state_from, ''), state_to, reason, created_at
		FROM command_events
		WHERE command_id = ?
		ORDER BY event_id ASC;
	`, commandID)
	if err != nil {
		return nil, fmt.Errorf("query command events: %w", err)
	}
	defer rows.Close()

	var out []CommandEvent
	for rows.Next() {
		var ev CommandEvent
		if err := rows.Scan(&ev.EventID, &ev.CommandID, &ev.TraceID, &ev.RunID, &ev.StateFrom, &ev.StateTo, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan command event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// FailStaleCommands moves commands stuck in executing for longer than
// olderThan to error. It returns the ids it failed.
func (s *Store) FailStaleCommands(ctx context.Context, olderThan time.Duration, reason string) ([]string, error) {
	modifier := fmt.Sprintf("-%d seconds", int(olderThan.Seconds()))
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM commands
		WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at <= datetime('now', ?)
		ORDER BY claimed_at ASC;
	`, CommandExecuting, modifier)
	if err != nil {
		return nil, fmt.Errorf("query stale commands: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale command: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var failed []string
	for _, id := range ids {
		err := s.finishCommand(ctx, id, CommandError, "stale_sweep", nil, &reason, "")
		if errors.Is(err, ErrIllegalTransition) {
			// Relay finished it between the scan and the update.
			continue
		}
		if err != nil {
			return failed, err
		}
		failed = append(failed, id)
	}
	return failed, nil
}

// CommandCounts returns the number of commands per status.
func (s *Store) CommandCounts(ctx context.Context) (map[CommandStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM commands GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count commands: %w", err)
	}
	defer rows.Close()
	out := map[CommandStatus]int{}
	for rows.Next() {
		var st CommandStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
