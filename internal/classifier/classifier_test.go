package classifier

import (
	"strings"
	"testing"
)

func TestClassify_Scenarios(t *testing.T) {
	c := New(DefaultThresholds())
	tests := []struct {
		prompt string
		simple bool
		rule   string
	}{
		{"add a red cube at the origin", true, ""},
		{"spawn a point light above the table", true, ""},
		{"build a small village with five houses, a well, and ambient lighting", false, "enumeration"},
		{"create a floor then add walls", false, "sequencing"},
		{"First place the terrain", false, "sequencing"},
		{"place 3 towers", false, "enumeration"},
		{"add a cube, a sphere", false, "enumeration"},
		{"add a cube and a sphere", false, "enumeration"},
		{"make a spooky level", false, "scope"},
		{"design two worlds", false, "enumeration"},
		{strings.Repeat("cube ", 15), false, "length"},
	}
	for _, tt := range tests {
		d := c.Classify(tt.prompt)
		if d.Simple != tt.simple {
			t.Errorf("%q: simple = %v, want %v (%s)", tt.prompt, d.Simple, tt.simple, d.Reason)
			continue
		}
		if d.Rule != tt.rule {
			t.Errorf("%q: rule = %q, want %q", tt.prompt, d.Rule, tt.rule)
		}
		if !d.Simple && d.Reason == "" {
			t.Errorf("%q: expected a reason", tt.prompt)
		}
	}
}

func TestClassify_Bullets(t *testing.T) {
	c := New(DefaultThresholds())
	prompt := "Please:\n- cube\n- sphere"
	if c.IsSimple(prompt) {
		t.Fatal("expected bullets to be complex")
	}
}

func TestClassify_OneCountIsSimple(t *testing.T) {
	c := New(DefaultThresholds())
	if !c.IsSimple("add 1 cube") {
		t.Fatal("a single counted item should be simple")
	}
}

func TestSetThresholds_HotSwap(t *testing.T) {
	c := New(Thresholds{})
	if got := c.Thresholds().MaxSimpleWords; got != 14 {
		t.Fatalf("zero thresholds should default, got %d", got)
	}
	prompt := "add a red cube at the origin"
	if !c.IsSimple(prompt) {
		t.Fatal("expected simple with defaults")
	}
	c.SetThresholds(Thresholds{MaxSimpleWords: 3})
	d := c.Classify(prompt)
	if d.Simple || d.Rule != "length" {
		t.Fatalf("expected length rule after swap, got %+v", d)
	}
}

func TestSetThresholds_CustomScopeWords(t *testing.T) {
	c := New(Thresholds{ScopeWords: []string{"dungeon"}})
	if c.IsSimple("make a dungeon") {
		t.Fatal("expected custom scope word to fire")
	}
	if !c.IsSimple("make a spooky level") {
		t.Fatal("default scope words should be replaced")
	}
}

func TestRules_Independent(t *testing.T) {
	th := DefaultThresholds()
	if checkSequencing("finally add fog", th) == "" {
		t.Fatal("sequencing rule should fire")
	}
	if checkScope("a whole city", th) == "" {
		t.Fatal("scope rule should fire")
	}
	if checkScope("a cityscape", th) != "" {
		t.Fatal("scope rule should match whole words only")
	}
	if checkEnumeration("a cube", th) != "" {
		t.Fatal("single item should not be an enumeration")
	}
}
