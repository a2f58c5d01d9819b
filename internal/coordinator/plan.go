package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/basket/scenecrew/internal/agent"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one step of a build plan. The plan is stored as a JSON array of
// tasks on the run row.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	AssignedTo  string     `json:"assigned_to"`
	Description string     `json:"description"`
	DependsOn   []string   `json:"depends_on"`
	Status      TaskStatus `json:"status"`
	Code        string     `json:"code,omitempty"`
	CommandID   string     `json:"command_id,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	TimedOut    bool       `json:"timed_out,omitempty"`
}

// Plan is a DAG of tasks, executed one at a time in dependency order.
type Plan struct {
	Tasks []Task
}

// Validate checks that the plan is well-formed. Unknown agents are an
// error here; the planner reassigns them before validating.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}

	seen := make(map[string]bool)
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task has empty ID")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task ID: %s", t.ID)
		}
		seen[t.ID] = true
		if !agent.Known(t.AssignedTo) {
			return fmt.Errorf("task %s assigned to unknown agent %q", t.ID, t.AssignedTo)
		}
	}

	_, err := topoSort(p.Tasks)
	return err
}

// topoSort groups tasks into waves with Kahn's algorithm. Each wave only
// depends on earlier waves; within a wave plan order is kept.
func topoSort(tasks []Task) ([][]Task, error) {
	byID := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !byID[dep] {
				return nil, fmt.Errorf("task %s depends on nonexistent task %s", t.ID, dep)
			}
		}
	}

	var waves [][]Task
	processed := make(map[string]bool)

	for len(processed) < len(tasks) {
		var wave []Task
		for _, t := range tasks {
			if processed[t.ID] {
				continue
			}
			canRun := true
			for _, dep := range t.DependsOn {
				if !processed[dep] {
					canRun = false
					break
				}
			}
			if canRun {
				wave = append(wave, t)
			}
		}

		if len(wave) == 0 {
			return nil, fmt.Errorf("cycle detected in plan dependencies")
		}
		waves = append(waves, wave)
		for _, t := range wave {
			processed[t.ID] = true
		}
	}
	return waves, nil
}

// nextEligible returns the index of the first pending task whose
// dependencies have all completed, or -1.
func (p *Plan) nextEligible() int {
	status := make(map[string]TaskStatus, len(p.Tasks))
	for _, t := range p.Tasks {
		status[t.ID] = t.Status
	}
	for i, t := range p.Tasks {
		if t.Status != TaskPending {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if status[dep] != TaskCompleted {
				ready = false
				break
			}
		}
		if ready {
			return i
		}
	}
	return -1
}

// failBlocked marks pending tasks behind a failed dependency as failed,
// transitively, and returns their indexes.
func (p *Plan) failBlocked() []int {
	var blocked []int
	for {
		failed := make(map[string]bool)
		for _, t := range p.Tasks {
			if t.Status == TaskFailed {
				failed[t.ID] = true
			}
		}
		changed := false
		for i := range p.Tasks {
			t := &p.Tasks[i]
			if t.Status != TaskPending {
				continue
			}
			for _, dep := range t.DependsOn {
				if failed[dep] {
					t.Status = TaskFailed
					t.Error = "dependency failed: " + dep
					blocked = append(blocked, i)
					changed = true
					break
				}
			}
		}
		if !changed {
			return blocked
		}
	}
}

// remaining reports whether any task is still pending.
func (p *Plan) remaining() bool {
	for _, t := range p.Tasks {
		if t.Status == TaskPending {
			return true
		}
	}
	return false
}

// Counts returns how many tasks completed and failed.
func (p *Plan) Counts() (completed, failed int) {
	for _, t := range p.Tasks {
		switch t.Status {
		case TaskCompleted:
			completed++
		case TaskFailed:
			failed++
		}
	}
	return completed, failed
}

func (p *Plan) MarshalJSON() ([]byte, error) {
	if p.Tasks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Tasks)
}

func (p *Plan) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.Tasks)
}

func (p *Plan) encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	return string(data), nil
}

func decodePlan(planJSON string) (*Plan, error) {
	p := &Plan{}
	if planJSON == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(planJSON), p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}
