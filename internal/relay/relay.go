// Package relay is the engine side of the command queue. It claims pending
// commands from the shared store, runs them in the editor and writes the
// outcome back.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/shared"
)

const DefaultPollInterval = time.Second

// Source is the slice of the command queue the relay needs.
type Source interface {
	ClaimNextPending(ctx context.Context) (*persistence.ExecutionCommand, error)
	MarkSucceeded(ctx context.Context, commandID, result, screenshotURL string) error
	MarkFailed(ctx context.Context, commandID, errorLog string) error
}

type Config struct {
	Source       Source
	Engine       Engine
	PollInterval time.Duration
	Logger       *slog.Logger
}

type Relay struct {
	source   Source
	engine   Engine
	interval time.Duration
	logger   *slog.Logger
}

func New(cfg Config) *Relay {
	r := &Relay{
		source:   cfg.Source,
		engine:   cfg.Engine,
		interval: cfg.PollInterval,
		logger:   cfg.Logger,
	}
	if r.engine == nil {
		r.engine = DryRunEngine{}
	}
	if r.interval <= 0 {
		r.interval = DefaultPollInterval
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run drains the queue until ctx is done, sleeping between empty polls.
// Store errors are logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay listening for commands", "poll_interval", r.interval)
	for {
		handled, err := r.Step(ctx)
		if ctx.Err() != nil {
			r.logger.Info("relay stopped")
			return nil
		}
		if err != nil {
			r.logger.Warn("relay poll failed", "error", err)
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return nil
		case <-time.After(r.interval):
		}
	}
}

// Step claims and executes at most one command. It reports whether a
// command was handled.
func (r *Relay) Step(ctx context.Context) (bool, error) {
	cmd, err := r.source.ClaimNextPending(ctx)
	if err != nil {
		return false, fmt.Errorf("claim command: %w", err)
	}
	if cmd == nil {
		return false, nil
	}
	r.logger.Info("executing command", "command_id", cmd.ID, "project_id", cmd.ProjectID,
		"code", shared.Truncate(cmd.Code, 80))

	ok, output, err := r.engine.Execute(ctx, cmd.Code)
	if err != nil {
		// Cancelled mid-call: record the failure so the waiter is not left
		// polling an executing command.
		output = "relay stopped before the engine replied: " + err.Error()
		ctx = context.WithoutCancel(ctx)
	}
	if ok {
		if err := r.source.MarkSucceeded(ctx, cmd.ID, output, shared.ScreenshotPath(output)); err != nil {
			return true, fmt.Errorf("mark %s succeeded: %w", cmd.ID, err)
		}
		r.logger.Info("command succeeded", "command_id", cmd.ID)
		return true, nil
	}
	if err := r.source.MarkFailed(ctx, cmd.ID, output); err != nil {
		return true, fmt.Errorf("mark %s failed: %w", cmd.ID, err)
	}
	r.logger.Warn("command failed", "command_id", cmd.ID, "error", shared.Truncate(output, 100))
	return true, nil
}
