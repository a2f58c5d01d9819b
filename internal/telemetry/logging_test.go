package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lastEntry(t *testing.T, home string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("unmarshal log json: %v", err)
	}
	return entry
}

func TestNewLogger_EmitsStructuredSchema(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("command enqueued", "command_id", "c-1", "project_id", "p-1")

	entry := lastEntry(t, home)
	for _, key := range []string{"timestamp", "level", "msg", "component", "trace_id"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing required key %q in log entry: %#v", key, entry)
		}
	}
	if entry["component"] != "scenecrew" {
		t.Fatalf("expected component=scenecrew, got %#v", entry["component"])
	}
	if entry["command_id"] != "c-1" {
		t.Fatalf("expected command_id propagation, got %#v", entry["command_id"])
	}
}

func TestNewLogger_RedactsSensitiveFields(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("llm configured",
		"api_key", "abc123",
		"detail", "Authorization: Bearer super-secret-token",
	)

	entry := lastEntry(t, home)
	if entry["api_key"] != "[REDACTED]" {
		t.Fatalf("expected api_key redaction, got %#v", entry["api_key"])
	}
	if entry["detail"] != "[REDACTED]" {
		t.Fatalf("expected detail redaction, got %#v", entry["detail"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
