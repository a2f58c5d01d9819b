package sweeper_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/sweeper"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses. This avoids fixed time.Sleep calls that cause flaky tests.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "scenecrew.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type countingReconciler struct {
	calls atomic.Int32
	runs  int
}

func (r *countingReconciler) ReconcileOrphans(context.Context, time.Duration) (int, error) {
	r.calls.Add(1)
	return r.runs, nil
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	if _, err := sweeper.New(sweeper.Config{Schedule: "every tuesday"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSweep_FailsStaleCommands(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stuck, err := store.EnqueueCommand(ctx, "p1", "import unreal", "Thomas")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimNextPending(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	waiting, err := store.EnqueueCommand(ctx, "p1", "import unreal", "Thomas")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := &countingReconciler{runs: 2}
	s, err := sweeper.New(sweeper.Config{Store: store, Reconciler: rec, StaleAfter: time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.FailedCommands) != 1 || res.FailedCommands[0] != stuck || res.FailedRuns != 2 {
		t.Fatalf("result = %+v", res)
	}

	cmd, err := store.GetCommand(ctx, stuck)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cmd.Status != persistence.CommandError || cmd.ErrorLog == "" {
		t.Fatalf("stuck command = %+v", cmd)
	}
	pending, err := store.GetCommand(ctx, waiting)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pending.Status != persistence.CommandPending {
		t.Fatalf("pending command touched: %s", pending.Status)
	}
}

func TestStart_SweepsImmediately(t *testing.T) {
	store := openTestStore(t)
	rec := &countingReconciler{}
	s, err := sweeper.New(sweeper.Config{
		Store:      store,
		Reconciler: rec,
		Schedule:   "0 0 1 1 *",
		Interval:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return rec.calls.Load() >= 1 })
	// A yearly schedule must not fire again on the following ticks.
	time.Sleep(100 * time.Millisecond)
	if n := rec.calls.Load(); n != 1 {
		t.Fatalf("sweeps = %d, want 1", n)
	}
	if !s.NextRun().After(time.Now()) {
		t.Fatalf("next run %v not in the future", s.NextRun())
	}
}

func TestNextRunTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	next, err := sweeper.NextRunTime("*/5 * * * *", base)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}
