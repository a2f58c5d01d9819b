package pricing

import (
	"math"
	"testing"
)

func TestEstimate_ReportedUsage(t *testing.T) {
	u := Estimate("googleai/gemini-2.5-flash", 1_000_000, 1_000_000, "ignored", "ignored")
	if u.Estimated {
		t.Fatal("reported counts should not be estimated")
	}
	if math.Abs(u.CostUSD-0.375) > 1e-9 {
		t.Fatalf("cost = %f, want 0.375", u.CostUSD)
	}
}

func TestEstimate_FallsBackToText(t *testing.T) {
	code := "import unreal\nunreal.EditorLevelLibrary.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(0, 0, 0))"
	u := Estimate("openai/gpt-4o-mini", 0, 0, code, "done")
	if !u.Estimated {
		t.Fatal("expected estimated usage")
	}
	if u.InputTokens != Tokens(code) || u.OutputTokens != Tokens("done") {
		t.Fatalf("tokens = %d/%d", u.InputTokens, u.OutputTokens)
	}
	if u.CostUSD <= 0 {
		t.Fatalf("cost = %f", u.CostUSD)
	}
}

func TestEstimate_UnknownModelIsFree(t *testing.T) {
	if u := Estimate("ollama/llama3", 500, 500, "", ""); u.CostUSD != 0 {
		t.Fatalf("cost = %f", u.CostUSD)
	}
	if Known("ollama/llama3") {
		t.Fatal("llama3 should be unknown")
	}
	if !Known("anthropic/claude-sonnet-4-5") {
		t.Fatal("claude-sonnet-4-5 should be known")
	}
}

func TestBareModel(t *testing.T) {
	tests := map[string]string{
		"googleai/gemini-2.5-flash": "gemini-2.5-flash",
		"openrouter/openai/gpt-4o":  "gpt-4o",
		"local-model":               "local-model",
	}
	for in, want := range tests {
		if got := BareModel(in); got != want {
			t.Errorf("BareModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hello", 1},
		{"spawn a red cube near the player start", 10}, // 8 words * 1.33
		{"unreal.Vector(100,200,300)", 6},              // 26 bytes / 4
	}
	for _, tt := range tests {
		if got := Tokens(tt.in); got != tt.want {
			t.Errorf("Tokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
