package persistence_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/basket/scenecrew/internal/persistence"
)

func TestAddChat_ValidatesTurnType(t *testing.T) {
	store, _ := openTestStore(t)
	if err := store.AddChat(context.Background(), "p", "Nima", "", "hi", "gossip"); err == nil {
		t.Fatal("expected invalid turn type error")
	}
}

func TestListChat_ChronologicalWindow(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := store.AddChat(ctx, "p", "Thomas", "", fmt.Sprintf("msg %d", i), persistence.TurnDiscussion); err != nil {
			t.Fatalf("add chat: %v", err)
		}
	}
	_ = store.AddChat(ctx, "other", "Thomas", "", "elsewhere", persistence.TurnDiscussion)

	got, err := store.ListChat(ctx, "p", 3)
	if err != nil {
		t.Fatalf("list chat: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	if got[0].Content != "msg 2" || got[2].Content != "msg 4" {
		t.Fatalf("expected last three in order, got %q..%q", got[0].Content, got[2].Content)
	}
}

func TestLogEvent_FilterByType(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	_ = store.LogEvent(ctx, "p", "code_queued", "Thomas", "Code queued for engine execution (20 chars)")
	_ = store.LogEvent(ctx, "p", "debug", "Morgan", "attempt 1")
	_ = store.LogEvent(ctx, "p", "debug_exhausted", "Morgan", "Could not fix after 3 attempts.")

	all, err := store.ListEvents(ctx, "p", "", 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 events, got %d err=%v", len(all), err)
	}
	if all[0].EventType != "code_queued" {
		t.Fatalf("expected chronological order, got %s first", all[0].EventType)
	}
	debug, err := store.ListEvents(ctx, "p", "debug", 10)
	if err != nil || len(debug) != 1 || debug[0].Agent != "Morgan" {
		t.Fatalf("expected one debug event, got %+v err=%v", debug, err)
	}
}

func TestDebugModeAuto_DefaultsOn(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	on, err := store.DebugModeAuto(ctx, "p")
	if err != nil || !on {
		t.Fatalf("expected default on, got %v err=%v", on, err)
	}
	if err := store.SetDebugModeAuto(ctx, "p", false); err != nil {
		t.Fatalf("set: %v", err)
	}
	on, _ = store.DebugModeAuto(ctx, "p")
	if on {
		t.Fatal("expected debug mode off")
	}
	_ = store.SetDebugModeAuto(ctx, "p", true)
	on, _ = store.DebugModeAuto(ctx, "p")
	if !on {
		t.Fatal("expected debug mode back on")
	}
}
