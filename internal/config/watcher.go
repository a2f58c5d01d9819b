package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// ReloadEvent carries a config.yaml that changed on disk and parsed cleanly.
type ReloadEvent struct {
	Path   string
	Op     fsnotify.Op
	Config Config
}

// Watcher watches the home directory for config.yaml edits. Bursts of
// writes are coalesced, and a file that fails to load is logged and
// skipped so callers only ever see usable settings.
type Watcher struct {
	homeDir  string
	logger   *slog.Logger
	debounce time.Duration
	events   chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir:  homeDir,
		logger:   logger,
		debounce: defaultDebounce,
		events:   make(chan ReloadEvent, 4),
	}
}

// SetDebounce changes the quiet period; call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// The directory, not the file: editors that save by rename would
	// otherwise drop the watch.
	if err := fsw.Add(w.homeDir); err != nil {
		_ = fsw.Close()
		return err
	}
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	defer close(w.events)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var last fsnotify.Event
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != configFile || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			last, pending = ev, true
			timer.Reset(w.debounce)
		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			w.emit(last)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) emit(ev fsnotify.Event) {
	cfg, err := LoadFrom(w.homeDir)
	if err != nil {
		w.logger.Error("config.yaml changed but failed to load; keeping previous settings", "path", ev.Name, "error", err)
		return
	}
	w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String(), "fingerprint", cfg.Fingerprint())
	select {
	case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op, Config: cfg}:
	default:
		w.logger.Warn("config reload dropped; previous reload still pending")
	}
}
