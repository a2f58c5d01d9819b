package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/scenecrew/internal/shared"
)

func readLines(t *testing.T, home string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	ctx := shared.WithTraceID(context.Background(), "trace-1")
	before := RejectCount()
	Record(ctx, DecisionReject, "queue.submit", "Dangerous operation detected: os.system", "project=p1 by=Thomas")
	Record(ctx, DecisionAccept, "queue.enqueue", "42 chars", "project=p1 by=Thomas")

	lines := readLines(t, home)
	if len(lines) < 2 {
		t.Fatalf("expected two audit entries, got %d", len(lines))
	}
	first := lines[0]
	if first["decision"] != DecisionReject || first["action"] != "queue.submit" {
		t.Fatalf("unexpected first entry: %#v", first)
	}
	if first["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id propagation, got %#v", first["trace_id"])
	}
	if RejectCount() != before+1 {
		t.Fatalf("expected reject count to grow by one")
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(context.Background(), DecisionAccept, "queue.enqueue", "api_key=abcdef1234567890abcdef", "")

	lines := readLines(t, home)
	reason, _ := lines[len(lines)-1]["reason"].(string)
	if strings.Contains(reason, "abcdef1234567890") {
		t.Fatalf("secret leaked into audit reason: %q", reason)
	}
}

func TestAuditAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	ctx := context.Background()
	Record(ctx, DecisionAccept, "queue.enqueue", "a", "s1")
	info1, err := os.Stat(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	Record(ctx, DecisionAccept, "queue.enqueue", "b", "s2")
	info2, err := os.Stat(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info2.Size() <= info1.Size() {
		t.Fatalf("expected file to grow, before=%d after=%d", info1.Size(), info2.Size())
	}
}
