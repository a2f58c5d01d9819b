// Package audit keeps an append-only record of queue decisions: every
// accepted enqueue and every safety rejection.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/scenecrew/internal/shared"
)

const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"trace_id"`
	Decision  string `json:"decision"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	Subject   string `json:"subject,omitempty"`
}

var (
	mu          sync.Mutex
	file        *os.File
	db          *sql.DB
	rejectCount atomic.Int64
)

// Init opens <homeDir>/logs/audit.jsonl for appending.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB mirrors subsequent records into the audit_log table.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	db = nil
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// RejectCount returns the number of reject decisions since startup.
func RejectCount() int64 {
	return rejectCount.Load()
}

// Record appends one decision. Secrets are redacted before anything is
// written. Write failures are swallowed; auditing never fails the caller.
func Record(ctx context.Context, decision, action, reason, subject string) {
	if decision == DecisionReject {
		rejectCount.Add(1)
	}
	reason = shared.Redact(reason)
	subject = shared.Redact(subject)
	traceID := shared.TraceID(ctx)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		b, err := json.Marshal(entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			TraceID:   traceID,
			Decision:  decision,
			Action:    action,
			Reason:    reason,
			Subject:   subject,
		})
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}
	if db != nil {
		_, _ = db.ExecContext(context.WithoutCancel(ctx), `
			INSERT INTO audit_log (trace_id, subject, action, decision, reason)
			VALUES (?, ?, ?, ?, ?);
		`, traceID, subject, action, decision, reason)
	}
}
