package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/basket/scenecrew/internal/config"
)

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(config.ConfigPath(home), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_FromScenecrewHomeEnv(t *testing.T) {
	home := filepath.Join(t.TempDir(), "sc")
	writeConfig(t, home, "queue:\n  poll_attempts: 5\nautodebug:\n  max_attempts: 2\norchestrator:\n  visual_check: true\n")
	t.Setenv("SCENECREW_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HomeDir != home {
		t.Fatalf("expected home %q, got %q", home, cfg.HomeDir)
	}
	if cfg.Queue.PollAttempts != 5 {
		t.Fatalf("expected poll_attempts=5, got %d", cfg.Queue.PollAttempts)
	}
	if cfg.AutoDebug.MaxAttempts != 2 {
		t.Fatalf("expected max_attempts=2, got %d", cfg.AutoDebug.MaxAttempts)
	}
	if !cfg.Orchestrator.VisualCheck || cfg.Orchestrator.Trailer {
		t.Fatalf("expected visual_check on and trailer off, got %+v", cfg.Orchestrator)
	}
	// Unset fields keep their defaults.
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %s", cfg.PollInterval())
	}
}

func TestLoad_DefaultHomeUnderUserHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SCENECREW_HOME", "")

	if got := config.HomeDir(); got != filepath.Join(home, ".scenecrew") {
		t.Fatalf("unexpected home dir %q", got)
	}
}

func TestLoad_FirstRunDefaults(t *testing.T) {
	home := filepath.Join(t.TempDir(), "fresh")
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.FirstRun {
		t.Fatal("expected FirstRun when config.yaml is missing")
	}
	if cfg.Queue.PollIntervalMS != 2000 || cfg.Queue.PollAttempts != 15 {
		t.Fatalf("expected 2000ms x 15 poll budget, got %dms x %d", cfg.Queue.PollIntervalMS, cfg.Queue.PollAttempts)
	}
	if cfg.AutoDebug.MaxAttempts != 3 {
		t.Fatalf("expected debug budget 3, got %d", cfg.AutoDebug.MaxAttempts)
	}
	if cfg.Relay.RemoteControlURL != "http://localhost:30010" {
		t.Fatalf("unexpected relay url %q", cfg.Relay.RemoteControlURL)
	}
	if cfg.LLM.Provider != "google" {
		t.Fatalf("expected google provider default, got %q", cfg.LLM.Provider)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "bind_addr: 0.0.0.0:9000\nrelay:\n  remote_control_url: http://engine:30010/\n")
	t.Setenv("SCENECREW_BIND_ADDR", "127.0.0.1:9999")
	t.Setenv("SCENECREW_POLL_ATTEMPTS", "4")

	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:9999" {
		t.Fatalf("expected env bind addr, got %q", cfg.BindAddr)
	}
	if cfg.Queue.PollAttempts != 4 {
		t.Fatalf("expected env poll attempts, got %d", cfg.Queue.PollAttempts)
	}
	if cfg.Relay.RemoteControlURL != "http://engine:30010" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Relay.RemoteControlURL)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "queue: [not a map\n")
	if _, err := config.LoadFrom(home); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ClassifierThresholds(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "classifier:\n  max_simple_words: 8\n  scope_words: [arena, castle]\n")

	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := config.ClassifierConfig{MaxSimpleWords: 8, MaxSimpleItems: 2, ScopeWords: []string{"arena", "castle"}}
	if diff := cmp.Diff(want, cfg.Classifier); diff != "" {
		t.Fatalf("classifier config mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveLLM_EnvKeyAndAgentModel(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "llm:\n  provider: anthropic\n  api_key: from-file\n  agent_models:\n    Morgan: claude-opus-4-1\n")
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	provider, model, key := cfg.ResolveLLM()
	if provider != "anthropic" || key != "from-env" {
		t.Fatalf("unexpected provider/key %q/%q", provider, key)
	}
	if model == "" {
		t.Fatal("expected a default anthropic model")
	}
	if got := cfg.ModelFor("Morgan"); got != "claude-opus-4-1" {
		t.Fatalf("expected Morgan override, got %q", got)
	}
	if got := cfg.ModelFor("Thomas"); got != model {
		t.Fatalf("expected default model for Thomas, got %q", got)
	}
}

func TestFingerprint_ChangesWithThresholds(t *testing.T) {
	a, _ := config.LoadFrom(t.TempDir())
	b := a
	b.Classifier.MaxSimpleWords = 99
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected fingerprint to change with classifier thresholds")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatal("expected stable fingerprint")
	}
}
