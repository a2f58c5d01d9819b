package agent

import (
	"context"
	"strings"
	"testing"
)

func TestLookup_CaseInsensitive(t *testing.T) {
	id, ok := Lookup(" thomas ")
	if !ok || id.Name != Thomas || id.Role != RoleCoder {
		t.Fatalf("unexpected lookup %+v ok=%v", id, ok)
	}
	if Known("Bob") {
		t.Fatal("Bob is not on the roster")
	}
	if Canonical("MORGAN") != Morgan {
		t.Fatalf("canonical = %q", Canonical("MORGAN"))
	}
}

func TestRoster_ComposerIsTextOnly(t *testing.T) {
	for _, id := range Roster() {
		if id.TextOnly != (id.Name == Sana) {
			t.Errorf("%s TextOnly = %v", id.Name, id.TextOnly)
		}
	}
	if got := len(Names()); got != 6 {
		t.Fatalf("expected 6 agents, got %d", got)
	}
}

func TestRoster_ReturnsCopy(t *testing.T) {
	r := Roster()
	r[0].Name = "Mallory"
	if Roster()[0].Name != Nima {
		t.Fatal("Roster must not expose the package table")
	}
}

func TestSystemPrompt_IncludesPersonaAndContext(t *testing.T) {
	id, _ := Lookup(Thomas)
	p := SystemPrompt(id, "Project: Test Village")
	for _, want := range []string{"You are Thomas, the Lead Programmer", "import unreal", "Project: Test Village", "=== RULES ==="} {
		if !strings.Contains(p, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if !strings.Contains(SystemPrompt(id, "  "), "(none)") {
		t.Error("empty context should render a placeholder")
	}
}

func TestPurpose_DefaultsToChat(t *testing.T) {
	ctx := context.Background()
	if PurposeFrom(ctx) != PurposeChat {
		t.Fatal("expected chat by default")
	}
	if PurposeFrom(WithPurpose(ctx, PurposePlan)) != PurposePlan {
		t.Fatal("expected plan purpose")
	}
}

func TestCallerFunc(t *testing.T) {
	var c Caller = CallerFunc(func(_ context.Context, name, prompt, _ string) (string, error) {
		return name + ":" + prompt, nil
	})
	got, err := c.Call(context.Background(), Alex, "hi", "")
	if err != nil || got != "Alex:hi" {
		t.Fatalf("got %q err=%v", got, err)
	}
}
