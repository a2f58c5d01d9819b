package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/scenecrew/internal/bus"
)

const (
	schemaVersionV1  = 1
	schemaChecksumV1 = "sc-v1-2026-09-02-queue-runs-memory"

	// v2 adds claimed_at to commands for the stale sweep.
	schemaVersionV2  = 2
	schemaChecksumV2 = "sc-v2-2026-09-20-command-claim-time"

	schemaVersionLatest  = schemaVersionV2
	schemaChecksumLatest = schemaChecksumV2

	busyRetries = 5
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	bus *bus.Bus // may be nil in tests
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".scenecrew", "scenecrew.db")
}

// Open opens (creating if needed) the SQLite database at path and brings
// its schema up to date. eventBus may be nil.
func Open(path string, eventBus *bus.Bus) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, bus: eventBus}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// retryOnBusy retries f on SQLITE_BUSY/LOCKED with exponential backoff and
// jitter, on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isSQLiteBusy(err) || attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = delay - delay/4 + time.Duration(rand.IntN(int(delay/2)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

var tableStatements = []string{
	`CREATE TABLE IF NOT EXISTS project_settings (
		project_id TEXT PRIMARY KEY,
		debug_mode_auto INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		code TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('pending', 'executing', 'success', 'error')),
		result TEXT,
		error_log TEXT,
		screenshot_url TEXT,
		submitted_by TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		executed_at DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS command_events (
		event_id INTEGER PRIMARY KEY AUTOINCREMENT,
		command_id TEXT NOT NULL REFERENCES commands(id),
		trace_id TEXT,
		run_id TEXT,
		state_from TEXT,
		state_to TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS build_runs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('planning', 'executing', 'paused', 'stopped', 'completed', 'failed')),
		plan_json TEXT NOT NULL DEFAULT '[]',
		current_task_index INTEGER NOT NULL DEFAULT 0,
		summary TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS chat_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		turn_type TEXT NOT NULL CHECK(turn_type IN ('discussion', 'critique', 'consultation', 'progress', 'system')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS event_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		agent TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS agent_memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		memory_type TEXT NOT NULL CHECK(memory_type IN ('decision', 'task', 'learning', 'preference')),
		content TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS consultation_sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		initiator TEXT NOT NULL,
		target TEXT NOT NULL,
		topic TEXT NOT NULL,
		seed TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS consultation_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES consultation_sessions(id),
		consultant TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT,
		subject TEXT,
		action TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_commands_status_created ON commands(status, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_commands_project ON commands(project_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_command_events_command ON command_events(command_id, event_id);`,
	// At most one planning/executing/paused run per project.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_build_runs_one_active ON build_runs(project_id)
		WHERE status IN ('planning', 'executing', 'paused');`,
	`CREATE INDEX IF NOT EXISTS idx_build_runs_project ON build_runs(project_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_chat_turns_project ON chat_turns(project_id, id);`,
	`CREATE INDEX IF NOT EXISTS idx_event_log_project ON event_log(project_id, id);`,
	`CREATE INDEX IF NOT EXISTS idx_agent_memories_agent ON agent_memories(project_id, agent, id);`,
	`CREATE INDEX IF NOT EXISTS idx_consultation_responses_session ON consultation_responses(session_id);`,
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}
	if maxVersion > 0 {
		want := map[int]string{
			schemaVersionV1: schemaChecksumV1,
			schemaVersionV2: schemaChecksumV2,
		}[maxVersion]
		var got string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, maxVersion).Scan(&got); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if got != want {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", maxVersion, got, want)
		}
	}
	if maxVersion == schemaVersionLatest {
		return tx.Commit()
	}

	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	// v2 column, added in place for v1 databases.
	if !columnExists(ctx, tx, "commands", "claimed_at") {
		if _, err := tx.ExecContext(ctx, `ALTER TABLE commands ADD COLUMN claimed_at DATETIME;`); err != nil {
			return fmt.Errorf("add commands.claimed_at: %w", err)
		}
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration index: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum)
		VALUES (?, ?);
	`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("insert schema migration ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) bool {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
