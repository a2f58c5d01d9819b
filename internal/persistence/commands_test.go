package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/scenecrew/internal/bus"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/shared"
)

const cubeCode = "import unreal\nunreal.log('cube')"

func TestEnqueueCommand_PendingWithHistory(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := shared.WithTraceID(context.Background(), "trace-enq")

	id, err := store.EnqueueCommand(ctx, "proj-1", cubeCode, "Thomas")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	cmd, err := store.GetCommand(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cmd.Status != persistence.CommandPending {
		t.Fatalf("expected pending, got %s", cmd.Status)
	}
	if cmd.Code != cubeCode || cmd.SubmittedBy != "Thomas" || cmd.ProjectID != "proj-1" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.ExecutedAt != nil || cmd.ClaimedAt != nil {
		t.Fatalf("expected no timestamps on pending command")
	}

	events, err := store.ListCommandEvents(ctx, id)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].StateTo != persistence.CommandPending || events[0].StateFrom != "" {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].TraceID != "trace-enq" {
		t.Fatalf("expected trace id on event, got %q", events[0].TraceID)
	}
}

func TestEnqueueCommand_PublishesEvent(t *testing.T) {
	b := bus.New()
	store, err := persistence.Open(t.TempDir()+"/scenecrew.db", b)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	sub := b.Subscribe("command.")
	defer b.Unsubscribe(sub)

	id, err := store.EnqueueCommand(context.Background(), "p", cubeCode, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case ev := <-sub.Ch():
		ce, ok := ev.Payload.(bus.CommandEvent)
		if ev.Topic != bus.TopicCommandEnqueued || !ok || ce.CommandID != id {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for enqueue event")
	}
}

func TestGetCommand_NotFound(t *testing.T) {
	store, _ := openTestStore(t)
	if _, err := store.GetCommand(context.Background(), "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimNextPending_OldestFirst(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	first, _ := store.EnqueueCommand(ctx, "p", cubeCode, "")
	second, _ := store.EnqueueCommand(ctx, "p", cubeCode, "")

	got, err := store.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got == nil || got.ID != first {
		t.Fatalf("expected %s claimed first, got %+v", first, got)
	}
	if got.Status != persistence.CommandExecuting {
		t.Fatalf("expected executing, got %s", got.Status)
	}

	got, err = store.ClaimNextPending(ctx)
	if err != nil || got == nil || got.ID != second {
		t.Fatalf("expected %s second, got %+v err=%v", second, got, err)
	}

	got, err = store.ClaimNextPending(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected empty queue, got %+v err=%v", got, err)
	}
}

func TestCommandLifecycle_SuccessAndError(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	okID, _ := store.EnqueueCommand(ctx, "p", cubeCode, "")
	badID, _ := store.EnqueueCommand(ctx, "p", cubeCode, "")
	_, _ = store.ClaimNextPending(ctx)
	_, _ = store.ClaimNextPending(ctx)

	if err := store.MarkCommandSucceeded(ctx, okID, "Spawned Cube", "http://shots/1.png"); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if err := store.MarkCommandFailed(ctx, badID, "AttributeError: 'NoneType'"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	okCmd, _ := store.GetCommand(ctx, okID)
	if okCmd.Status != persistence.CommandSuccess || okCmd.Result != "Spawned Cube" || okCmd.ScreenshotURL != "http://shots/1.png" {
		t.Fatalf("unexpected success row %+v", okCmd)
	}
	if okCmd.ExecutedAt == nil || okCmd.ClaimedAt == nil {
		t.Fatal("expected claimed_at and executed_at on finished command")
	}
	badCmd, _ := store.GetCommand(ctx, badID)
	if badCmd.Status != persistence.CommandError || badCmd.ErrorLog != "AttributeError: 'NoneType'" {
		t.Fatalf("unexpected error row %+v", badCmd)
	}

	events, _ := store.ListCommandEvents(ctx, okID)
	var path []persistence.CommandStatus
	for _, ev := range events {
		path = append(path, ev.StateTo)
	}
	want := []persistence.CommandStatus{persistence.CommandPending, persistence.CommandExecuting, persistence.CommandSuccess}
	if len(path) != len(want) {
		t.Fatalf("expected path %v, got %v", want, path)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("expected path %v, got %v", want, path)
		}
	}
}

func TestCommandTransition_NeverRegresses(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	id, _ := store.EnqueueCommand(ctx, "p", cubeCode, "")

	// pending -> success skips executing.
	if err := store.MarkCommandSucceeded(ctx, id, "x", ""); !errors.Is(err, persistence.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	cmd, _ := store.GetCommand(ctx, id)
	if cmd.Status != persistence.CommandPending || cmd.Result != "" {
		t.Fatalf("illegal transition mutated row: %+v", cmd)
	}

	_, _ = store.ClaimNextPending(ctx)
	if err := store.MarkCommandFailed(ctx, id, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	// Terminal rows stay terminal.
	if err := store.MarkCommandSucceeded(ctx, id, "late", ""); !errors.Is(err, persistence.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition on terminal row, got %v", err)
	}
	if err := store.MarkCommandFailed(context.Background(), "nope", "x"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCommands_NewestFirstAndCapped(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		id, _ := store.EnqueueCommand(ctx, "p", cubeCode, "")
		ids = append(ids, id)
	}
	_, _ = store.EnqueueCommand(ctx, "other", cubeCode, "")

	got, err := store.ListCommands(ctx, "p", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	if got[0].ID != ids[4] || got[2].ID != ids[2] {
		t.Fatalf("expected newest first, got %s..%s", got[0].ID, got[2].ID)
	}
}

func TestFailStaleCommands(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	stale, _ := store.EnqueueCommand(ctx, "p", cubeCode, "")
	fresh, _ := store.EnqueueCommand(ctx, "p", cubeCode, "")
	_, _ = store.ClaimNextPending(ctx)
	_, _ = store.ClaimNextPending(ctx)
	if _, err := store.DB().Exec(`UPDATE commands SET claimed_at = datetime('now', '-1 hour') WHERE id = ?;`, stale); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	failed, err := store.FailStaleCommands(ctx, 10*time.Minute, "relay did not report")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(failed) != 1 || failed[0] != stale {
		t.Fatalf("expected only %s failed, got %v", stale, failed)
	}
	cmd, _ := store.GetCommand(ctx, stale)
	if cmd.Status != persistence.CommandError || cmd.ErrorLog != "relay did not report" {
		t.Fatalf("unexpected stale row %+v", cmd)
	}
	cmd, _ = store.GetCommand(ctx, fresh)
	if cmd.Status != persistence.CommandExecuting {
		t.Fatalf("fresh command should be untouched, got %s", cmd.Status)
	}

	counts, err := store.CommandCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[persistence.CommandError] != 1 || counts[persistence.CommandExecuting] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}
