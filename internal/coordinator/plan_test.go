package coordinator

import (
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func task(id string, deps ...string) Task {
	return Task{ID: id, Title: id, AssignedTo: "Thomas", DependsOn: deps, Status: TaskPending}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []Task
		wantErr string
	}{
		{"ok", []Task{task("a"), task("b", "a")}, ""},
		{"empty", nil, "no tasks"},
		{"empty id", []Task{task("")}, "empty ID"},
		{"duplicate", []Task{task("a"), task("a")}, "duplicate task ID"},
		{"missing dep", []Task{task("a", "zzz")}, "nonexistent task"},
		{"cycle", []Task{task("a", "b"), task("b", "a")}, "cycle detected"},
		{"unknown agent", []Task{{ID: "a", AssignedTo: "Nobody"}}, "unknown agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Plan{Tasks: tt.tasks}).Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestTopoSort_Waves(t *testing.T) {
	waves, err := topoSort([]Task{task("a"), task("b", "a"), task("c"), task("d", "b", "c")})
	if err != nil {
		t.Fatalf("topoSort: %v", err)
	}
	var got [][]string
	for _, w := range waves {
		var ids []string
		for _, tk := range w {
			ids = append(ids, tk.ID)
		}
		got = append(got, ids)
	}
	want := [][]string{{"a", "c"}, {"b"}, {"d"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("waves mismatch (-want +got):\n%s", diff)
	}
}

func TestNextEligible_FollowsPlanOrder(t *testing.T) {
	p := &Plan{Tasks: []Task{task("a"), task("b", "a"), task("c")}}
	if i := p.nextEligible(); i != 0 {
		t.Fatalf("first = %d, want 0", i)
	}
	p.Tasks[0].Status = TaskExecuting
	if i := p.nextEligible(); i != 2 {
		t.Fatalf("with a executing, next = %d, want 2", i)
	}
	p.Tasks[0].Status = TaskCompleted
	if i := p.nextEligible(); i != 1 {
		t.Fatalf("with a completed, next = %d, want 1", i)
	}
	for i := range p.Tasks {
		p.Tasks[i].Status = TaskCompleted
	}
	if i := p.nextEligible(); i != -1 {
		t.Fatalf("all done, next = %d, want -1", i)
	}
}

func TestFailBlocked_Transitive(t *testing.T) {
	p := &Plan{Tasks: []Task{task("a"), task("b", "a"), task("c", "b"), task("d")}}
	p.Tasks[0].Status = TaskFailed

	blocked := p.failBlocked()
	if !slices.Equal(blocked, []int{1, 2}) {
		t.Fatalf("blocked = %v, want [1 2]", blocked)
	}
	if p.Tasks[2].Error != "dependency failed: b" {
		t.Fatalf("c error = %q", p.Tasks[2].Error)
	}
	if p.Tasks[3].Status != TaskPending {
		t.Fatalf("independent task touched: %s", p.Tasks[3].Status)
	}
	if again := p.failBlocked(); len(again) != 0 {
		t.Fatalf("second pass blocked %v", again)
	}
	if completed, failed := p.Counts(); completed != 0 || failed != 3 {
		t.Fatalf("counts = %d/%d", completed, failed)
	}
	if !p.remaining() {
		t.Fatal("d should still be pending")
	}
}

func TestPlanJSON_IsTaskArray(t *testing.T) {
	empty, err := (&Plan{}).encode()
	if err != nil || empty != "[]" {
		t.Fatalf("empty plan = %q, %v", empty, err)
	}

	p := &Plan{Tasks: []Task{task("a"), task("b", "a")}}
	raw, err := p.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var arr []map[string]any
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		t.Fatalf("plan is not a JSON array: %v", err)
	}
	back, err := decodePlan(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(p.Tasks, back.Tasks, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if p, err := decodePlan(""); err != nil || len(p.Tasks) != 0 {
		t.Fatalf("decode empty = %+v, %v", p, err)
	}
}
