package memory_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/basket/scenecrew/internal/bus"
	"github.com/basket/scenecrew/internal/memory"
	"github.com/basket/scenecrew/internal/persistence"
)

func openTestStore(t *testing.T, b *bus.Bus) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "scenecrew.db"), b)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestExtractAndSave_PersistsAndPublishes(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe(bus.TopicMemoryCreated)
	defer b.Unsubscribe(sub)

	store := openTestStore(t, b)
	x := memory.New(memory.Config{Store: store, Bus: b})
	ctx := context.Background()

	out := "I recommend a stone bridge that spans the whole river.\n```python\nimport unreal\n```"
	n, err := x.ExtractAndSave(ctx, "p1", "Thomas", out, "add a bridge")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if n != 2 {
		t.Fatalf("saved = %d, want 2", n)
	}

	for i := 0; i < n; i++ {
		select {
		case ev := <-sub.Ch():
			me, ok := ev.Payload.(bus.MemoryEvent)
			if !ok || me.Agent != "Thomas" || me.ProjectID != "p1" {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for memory.created")
		}
	}

	mems, err := x.Recall(ctx, "p1", "Thomas", 0)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(mems) != 2 {
		t.Fatalf("recall = %d, want 2", len(mems))
	}
	block := x.ContextFor(ctx, "p1", "Thomas")
	if !strings.Contains(block, "[DECISIONS]") || !strings.Contains(block, "[TASKS]") {
		t.Fatalf("context block = %q", block)
	}
	if x.ContextFor(ctx, "p1", "Elena") != "" {
		t.Fatal("agent without memories should get an empty block")
	}
}

func TestRecallAndSearchScopes(t *testing.T) {
	store := openTestStore(t, nil)
	x := memory.New(memory.Config{Store: store})
	ctx := context.Background()

	code := "```python\nimport unreal\n```"
	for _, a := range []string{"Thomas", "Alex"} {
		if _, err := x.ExtractAndSave(ctx, "p1", a, code, "lighthouse on the cliff"); err != nil {
			t.Fatalf("extract %s: %v", a, err)
		}
	}
	if _, err := x.ExtractAndSave(ctx, "p2", "Thomas", code, "unrelated"); err != nil {
		t.Fatalf("extract p2: %v", err)
	}

	team, err := x.TeamRecall(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("team recall: %v", err)
	}
	var got []persistence.AgentMemory
	for _, m := range team {
		got = append(got, persistence.AgentMemory{ProjectID: m.ProjectID, Agent: m.Agent, MemoryType: m.MemoryType})
	}
	want := []persistence.AgentMemory{
		{ProjectID: "p1", Agent: "Alex", MemoryType: persistence.MemoryTask},
		{ProjectID: "p1", Agent: "Thomas", MemoryType: persistence.MemoryTask},
	}
	sortByAgent := cmpopts.SortSlices(func(a, b persistence.AgentMemory) bool { return a.Agent < b.Agent })
	if diff := cmp.Diff(want, got, sortByAgent); diff != "" {
		t.Fatalf("team recall mismatch (-want +got):\n%s", diff)
	}

	hits, err := x.Search(ctx, "p1", "lighthouse")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("search hits = %d, want 2", len(hits))
	}
}

type failingStore struct {
	memory.Store
}

func (failingStore) SaveMemory(context.Context, persistence.AgentMemory) (int64, error) {
	return 0, errors.New("disk full")
}

func TestExtractAndSave_ErrorIsReturnedNotFatal(t *testing.T) {
	x := memory.New(memory.Config{Store: failingStore{}})
	n, err := x.ExtractAndSave(context.Background(), "p1", "Thomas", "```python\nimport unreal\n```", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Fatalf("saved = %d", n)
	}
}
