package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/scenecrew/internal/config"
)

func startWatcher(t *testing.T, homeDir string) *config.Watcher {
	t.Helper()
	w := config.NewWatcher(homeDir, nil)
	w.SetDebounce(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	return w
}

func TestWatcher_DeliversParsedConfig(t *testing.T) {
	homeDir := t.TempDir()
	cfgPath := config.ConfigPath(homeDir)
	if err := os.WriteFile(cfgPath, []byte("classifier:\n  max_simple_words: 10\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}
	w := startWatcher(t, homeDir)

	// Rewrite until the watcher reports; notification readiness varies by platform.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	write := func() { _ = os.WriteFile(cfgPath, []byte("classifier:\n  max_simple_words: 20\n"), 0o644) }
	write()

	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != "config.yaml" {
				t.Fatalf("expected config.yaml event, got %s", ev.Path)
			}
			if ev.Config.Classifier.MaxSimpleWords != 20 {
				t.Fatalf("max_simple_words = %d, want 20", ev.Config.Classifier.MaxSimpleWords)
			}
			return
		case <-tick.C:
			write()
		case <-deadline:
			t.Fatalf("timed out waiting for config.yaml change event")
		}
	}
}

func TestWatcher_SkipsInvalidYAML(t *testing.T) {
	homeDir := t.TempDir()
	w := startWatcher(t, homeDir)

	_ = os.WriteFile(config.ConfigPath(homeDir), []byte("classifier: [unclosed\n"), 0o644)

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for invalid config %s", ev.Path)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	homeDir := t.TempDir()
	w := startWatcher(t, homeDir)

	_ = os.WriteFile(filepath.Join(homeDir, "notes.txt"), []byte("x"), 0o644)

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(200 * time.Millisecond):
	}
}
