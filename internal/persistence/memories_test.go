package persistence_test

import (
	"context"
	"testing"

	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/shared"
)

func seedMemories(t *testing.T, store *persistence.Store) {
	t.Helper()
	ctx := context.Background()
	for _, m := range []persistence.AgentMemory{
		{ProjectID: "p", Agent: "Thomas", MemoryType: persistence.MemoryTask, Content: "Thomas wrote UE5 Python code in response", Context: "Code task"},
		{ProjectID: "p", Agent: "Alex", MemoryType: persistence.MemoryDecision, Content: "I recommend a hub and spoke layout for the village", Context: `Boss asked: "village"`},
		{ProjectID: "p", Agent: "Thomas", MemoryType: persistence.MemoryDecision, Content: "we should keep meshes under /Engine/BasicShapes for now", Context: "Team discussion"},
		{ProjectID: "other", Agent: "Thomas", MemoryType: persistence.MemoryLearning, Content: "unrelated project", Context: "Discussion"},
	} {
		if _, err := store.SaveMemory(ctx, m); err != nil {
			t.Fatalf("save memory: %v", err)
		}
	}
}

func TestListAgentMemories_NewestFirst(t *testing.T) {
	store, _ := openTestStore(t)
	seedMemories(t, store)

	got, err := store.ListAgentMemories(context.Background(), "p", "Thomas", 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(got))
	}
	if got[0].MemoryType != persistence.MemoryDecision {
		t.Fatalf("expected newest decision first, got %s", got[0].MemoryType)
	}
}

func TestListTeamMemories_ScopedToProject(t *testing.T) {
	store, _ := openTestStore(t)
	seedMemories(t, store)

	got, err := store.ListTeamMemories(context.Background(), "p", 30)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 team memories, got %d", len(got))
	}
}

func TestSearchMemories_MatchesContentAndContext(t *testing.T) {
	store, _ := openTestStore(t)
	seedMemories(t, store)
	ctx := context.Background()

	got, err := store.SearchMemories(ctx, "p", "VILLAGE", 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Agent != "Alex" {
		t.Fatalf("expected Alex's memory, got %+v", got)
	}
	got, _ = store.SearchMemories(ctx, "p", "Code task", 20)
	if len(got) != 1 || got[0].MemoryType != persistence.MemoryTask {
		t.Fatalf("expected context match, got %+v", got)
	}
}

func TestSaveMemory_RejectsUnknownType(t *testing.T) {
	store, _ := openTestStore(t)
	_, err := store.SaveMemory(context.Background(), persistence.AgentMemory{ProjectID: "p", Agent: "A", MemoryType: "rumor", Content: "x"})
	if err == nil {
		t.Fatal("expected check constraint failure")
	}
}

func TestConsultations_RoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	id := shared.NewID()
	if err := store.CreateConsultation(ctx, persistence.ConsultationSession{
		ID: id, ProjectID: "p", Initiator: "Thomas", Target: "Morgan", Topic: "UE5 code review", Seed: "```python ...",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = store.AddConsultationResponse(ctx, id, "Morgan", "Looks fine")
	_ = store.AddConsultationResponse(ctx, id, "Alex", "Consider grouping actors")

	sessions, err := store.ListConsultations(ctx, "p", 10)
	if err != nil || len(sessions) != 1 || sessions[0].Target != "Morgan" {
		t.Fatalf("unexpected sessions %+v err=%v", sessions, err)
	}
	responses, err := store.ListConsultationResponses(ctx, id)
	if err != nil || len(responses) != 2 || responses[0].Consultant != "Morgan" {
		t.Fatalf("unexpected responses %+v err=%v", responses, err)
	}
	if err := store.AddConsultationResponse(ctx, "no-such-session", "X", "y"); err == nil {
		t.Fatal("expected foreign key failure")
	}
}
