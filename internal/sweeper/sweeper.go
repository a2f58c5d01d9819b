// Package sweeper periodically fails work that nobody will finish: commands
// stuck executing after a relay died, and build runs whose loop is gone.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/scenecrew/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

const (
	DefaultSchedule   = "*/5 * * * *"
	DefaultStaleAfter = 10 * time.Minute
	staleReason       = "relay did not report a result in time"
)

// Reconciler fails orphaned build runs. The coordinator implements it.
type Reconciler interface {
	ReconcileOrphans(ctx context.Context, olderThan time.Duration) (int, error)
}

type Config struct {
	Store      *persistence.Store
	Reconciler Reconciler
	Schedule   string        // cron expression; DefaultSchedule if empty
	StaleAfter time.Duration // age at which work counts as abandoned
	Interval   time.Duration // tick interval; defaults to 1 minute if zero
	Logger     *slog.Logger
}

// Result reports one sweep.
type Result struct {
	FailedCommands []string `json:"failed_commands"`
	FailedRuns     int      `json:"failed_runs"`
}

// Sweeper checks its cron schedule on every tick and sweeps when due.
type Sweeper struct {
	store      *persistence.Store
	reconciler Reconciler
	schedule   cronlib.Schedule
	staleAfter time.Duration
	interval   time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	nextRun time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*Sweeper, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweeper schedule %q: %w", expr, err)
	}
	s := &Sweeper{
		store:      cfg.Store,
		reconciler: cfg.Reconciler,
		schedule:   sched,
		staleAfter: cfg.StaleAfter,
		interval:   cfg.Interval,
		logger:     cfg.Logger,
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Start sweeps once immediately, then whenever the schedule comes due.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sweeper started", "interval", s.interval, "stale_after", s.staleAfter)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx, time.Now(), true)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now, false)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context, now time.Time, force bool) {
	s.mu.Lock()
	due := force || !now.Before(s.nextRun)
	if due {
		s.nextRun = s.schedule.Next(now)
	}
	s.mu.Unlock()
	if !due {
		return
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// NextRun is when the schedule next comes due.
func (s *Sweeper) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Sweep fails stale executing commands, then orphaned runs. It can be
// called directly, outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	ids, err := s.store.FailStaleCommands(ctx, s.staleAfter, staleReason)
	if err != nil {
		return res, fmt.Errorf("fail stale commands: %w", err)
	}
	res.FailedCommands = ids
	if s.reconciler != nil {
		n, err := s.reconciler.ReconcileOrphans(ctx, s.staleAfter)
		if err != nil {
			return res, fmt.Errorf("reconcile runs: %w", err)
		}
		res.FailedRuns = n
	}
	if len(res.FailedCommands) > 0 || res.FailedRuns > 0 {
		s.logger.Warn("sweeper failed abandoned work",
			"commands", len(res.FailedCommands),
			"runs", res.FailedRuns,
		)
	}
	return res, nil
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
