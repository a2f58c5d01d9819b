package coordinator

import (
	"context"
	"strings"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/classifier"
	"github.com/basket/scenecrew/internal/shared"
)

type BuildMode string

const (
	ModeQuick BuildMode = "quick"
	ModeFull  BuildMode = "full"
)

// BuildResult reports which path a brief took.
type BuildResult struct {
	Mode      BuildMode           `json:"mode"`
	Decision  classifier.Decision `json:"decision"`
	Quick     *QuickResult        `json:"quick,omitempty"`
	RunID     string              `json:"run_id,omitempty"`
	TaskCount int                 `json:"task_count,omitempty"`
	// Expanded is set when the planner rewrote the brief before planning.
	Expanded bool `json:"expanded,omitempty"`
}

// Build routes a brief: simple briefs take the quick path, everything else
// starts a background build run. The classifier sees the Boss's own words;
// expansion only feeds the planner.
func (o *Orchestrator) Build(ctx context.Context, projectID, prompt string) (*BuildResult, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, &shared.ValidationError{Field: "project_id"}
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, &shared.ValidationError{Field: "prompt"}
	}

	d := o.classifier.Classify(prompt)
	if d.Simple {
		q, err := o.QuickBuild(ctx, projectID, prompt)
		if err != nil {
			return nil, err
		}
		return &BuildResult{Mode: ModeQuick, Decision: d, Quick: q}, nil
	}

	brief, expanded := prompt, false
	if o.expandPrompt {
		brief, expanded = o.expand(ctx, projectID, prompt)
	}
	res, err := o.StartRun(ctx, projectID, brief)
	if err != nil {
		return nil, err
	}
	o.logger.Info("build routed", "project_id", projectID, "mode", ModeFull, "rule", d.Rule, "expanded", expanded)
	return &BuildResult{Mode: ModeFull, Decision: d, RunID: res.RunID, TaskCount: res.TaskCount, Expanded: expanded}, nil
}

// expand asks the planner for a detailed version of the brief. Short or
// failed replies keep the original.
func (o *Orchestrator) expand(ctx context.Context, projectID, prompt string) (string, bool) {
	ctx = shared.WithProjectID(ctx, projectID)
	request := expandPrompt(prompt)
	reply, err := o.caller.Call(agent.WithPurpose(ctx, agent.PurposeExpand), agent.Nima, request, "")
	if err != nil {
		o.logger.Warn("prompt expansion failed", "project_id", projectID, "error", err)
		return prompt, false
	}
	if o.memory != nil {
		_, _ = o.memory.ExtractAndSave(ctx, projectID, agent.Nima, reply, request)
	}
	reply = strings.TrimSpace(reply)
	if len(reply) <= minExpandedChars {
		return prompt, false
	}
	return reply, true
}
