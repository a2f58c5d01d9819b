package persistence

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryOnBusy_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnBusy_NonBusyReturnsImmediately(t *testing.T) {
	calls := 0
	want := errors.New("constraint failed")
	err := retryOnBusy(context.Background(), 5, func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) || calls != 1 {
		t.Fatalf("expected single call returning %v, got %d calls err=%v", want, calls, err)
	}
}

func TestRetryOnBusy_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := retryOnBusy(ctx, 50, func() error {
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCommandTransitions(t *testing.T) {
	cases := []struct {
		from, to CommandStatus
		ok       bool
	}{
		{CommandPending, CommandExecuting, true},
		{CommandExecuting, CommandSuccess, true},
		{CommandExecuting, CommandError, true},
		{CommandPending, CommandSuccess, false},
		{CommandSuccess, CommandExecuting, false},
		{CommandError, CommandPending, false},
		{CommandExecuting, CommandPending, false},
	}
	for _, tc := range cases {
		if got := canTransitionCommand(tc.from, tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}
