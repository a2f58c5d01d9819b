package coordinator

import (
	"context"
	"strings"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/autodebug"
	"github.com/basket/scenecrew/internal/queue"
	"github.com/basket/scenecrew/internal/safety"
	"github.com/basket/scenecrew/internal/shared"
)

// Debug runs auto-debug on a failure reported from outside a build run,
// resubmitting fixes through the queue.
func (o *Orchestrator) Debug(ctx context.Context, projectID, code, errText, agentName string) (autodebug.Outcome, error) {
	switch {
	case strings.TrimSpace(projectID) == "":
		return autodebug.Outcome{}, &shared.ValidationError{Field: "project_id"}
	case strings.TrimSpace(code) == "":
		return autodebug.Outcome{}, &shared.ValidationError{Field: "code"}
	case strings.TrimSpace(errText) == "":
		return autodebug.Outcome{}, &shared.ValidationError{Field: "error"}
	}
	if c := agent.Canonical(agentName); c != "" {
		agentName = c
	} else {
		agentName = agent.Thomas
	}
	if o.debugger == nil {
		return autodebug.Outcome{Skipped: true, Tier: autodebug.TierNone, Code: code, LastError: errText}, nil
	}
	exec := func(ctx context.Context, projectID, code, agentName string) autodebug.ExecResult {
		code, _ = safety.Normalize(code)
		return execResult(o.queue.ExecuteAndWait(ctx, projectID, code, agentName))
	}
	ctx = shared.WithProjectID(ctx, projectID)
	return o.debugger.DebugAndRetry(ctx, autodebug.Invocation{
		ProjectID: projectID,
		Code:      code,
		Error:     errText,
		AgentName: agentName,
	}, o.projectContext(ctx, projectID, agentName, ""), exec, 0)
}

// execResult maps a queue outcome onto what the debugger needs. A poll
// timeout stays distinct from an execution error.
func execResult(out queue.Outcome, err error) autodebug.ExecResult {
	res := autodebug.ExecResult{
		Success:   err == nil && out.Succeeded(),
		TimedOut:  out.TimedOut,
		Error:     out.Error,
		CommandID: out.CommandID,
	}
	if err != nil {
		res.Error = orDefault(out.Error, err.Error())
	}
	return res
}
