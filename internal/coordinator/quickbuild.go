package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/autodebug"
	otelPkg "github.com/basket/scenecrew/internal/otel"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/safety"
	"github.com/basket/scenecrew/internal/shared"
)

// QuickResult is the outcome of a single-shot build.
type QuickResult struct {
	CommandID string `json:"command_id,omitempty"`
	Status    string `json:"status"`
	Code      string `json:"code,omitempty"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Rejected  bool   `json:"rejected,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	// Hint is the known-pattern advice for a failed command.
	Hint string `json:"hint,omitempty"`
}

// QuickBuild asks Thomas for one script and runs it once without a build
// run. A failure is reported with a known-pattern hint when one matches;
// nothing is resubmitted. Safety rejections are reported in the result,
// not as an error.
func (o *Orchestrator) QuickBuild(ctx context.Context, projectID, prompt string) (*QuickResult, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, &shared.ValidationError{Field: "project_id"}
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, &shared.ValidationError{Field: "prompt"}
	}
	ctx = shared.WithProjectID(ctx, projectID)
	ctx, span := otelPkg.StartSpan(ctx, o.tracer, "coordinator.quick_build",
		otelPkg.AttrProjectID.String(projectID), otelPkg.AttrAgent.String(agent.Thomas))
	defer span.End()

	o.progress(ctx, projectID, "Quick build: "+shorten(prompt, 80))
	task := Task{ID: "quick", Title: shorten(prompt, 60), AssignedTo: agent.Thomas, Description: prompt}
	reply, err := o.caller.Call(agent.WithPurpose(ctx, agent.PurposeCode), agent.Thomas,
		codePrompt(task, prompt), o.projectContext(ctx, projectID, agent.Thomas, prompt))
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	o.afterTurn(ctx, projectID, agent.Thomas, reply, prompt)

	code := agent.ExtractPythonCode(reply)
	if code == "" {
		o.system(ctx, projectID, "Quick build failed: no valid engine Python code in response.")
		return &QuickResult{Status: string(persistence.CommandError), Error: "No valid engine Python code in response"}, nil
	}
	code, _ = safety.Normalize(code)

	res, err := o.quickExecute(ctx, projectID, code)
	if err != nil {
		return nil, err
	}
	if !res.Rejected && !res.TimedOut && res.Status != string(persistence.CommandSuccess) {
		res.Hint = autodebug.Suggest(res.Error)
	}
	o.reportQuick(ctx, projectID, res)
	return res, nil
}

func (o *Orchestrator) quickExecute(ctx context.Context, projectID, code string) (*QuickResult, error) {
	out, err := o.queue.ExecuteAndWait(ctx, projectID, code, agent.Thomas)
	res := &QuickResult{
		CommandID: out.CommandID,
		Status:    string(out.Status),
		Code:      code,
		Result:    out.Result,
		Error:     out.Error,
		Rejected:  out.Rejected,
		TimedOut:  out.TimedOut,
	}
	var rej *safety.RejectionError
	switch {
	case out.Rejected && errors.As(err, &rej):
		res.Status = "rejected"
		o.event(ctx, projectID, "safety_rejected", agent.Thomas, out.Error)
		return res, nil
	case err != nil:
		return nil, err
	case out.TimedOut:
		res.Status = "timeout"
	}
	return res, nil
}

func (o *Orchestrator) reportQuick(ctx context.Context, projectID string, res *QuickResult) {
	switch {
	case res.Rejected:
		o.system(ctx, projectID, "Quick build rejected by the safety filter: "+res.Error)
	case res.TimedOut:
		o.system(ctx, projectID, "Quick build timed out waiting for relay.")
	case res.Status == string(persistence.CommandSuccess):
		o.progress(ctx, projectID, "Quick build complete!")
	case res.Hint != "":
		o.system(ctx, projectID, "Quick build failed: "+orDefault(res.Error, "Execution failed")+"\nHint: "+res.Hint)
	default:
		o.system(ctx, projectID, "Quick build failed: "+orDefault(res.Error, "Execution failed"))
	}
}
