// Package coordinator turns a brief into engine work: it plans a build run
// with the planner agent, executes the tasks one at a time through the
// command queue, and hands failures to auto-debug.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/audit"
	"github.com/basket/scenecrew/internal/autodebug"
	"github.com/basket/scenecrew/internal/bus"
	"github.com/basket/scenecrew/internal/classifier"
	"github.com/basket/scenecrew/internal/consult"
	"github.com/basket/scenecrew/internal/memory"
	otelPkg "github.com/basket/scenecrew/internal/otel"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/queue"
	"github.com/basket/scenecrew/internal/safety"
	"github.com/basket/scenecrew/internal/shared"
)

var (
	// ErrRunActive is returned when the project already has an active run.
	ErrRunActive = persistence.ErrRunActive
	// ErrNoActiveRun is returned by ControlRun when nothing is running.
	ErrNoActiveRun = errors.New("no active build run")
	// ErrNoRun is returned by GetRunStatus for a project that never ran.
	ErrNoRun = errors.New("no build run for project")
	// ErrIllegalTransition is returned when the run state machine refuses
	// a control action.
	ErrIllegalTransition = persistence.ErrIllegalTransition
)

const (
	defaultPausePoll   = 2 * time.Second
	defaultReviewEvery = 2
	minExpandedChars   = 20
	progressTitle      = "Build Run"
)

// Action is a run control verb.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)

var actionTargets = map[Action]persistence.RunStatus{
	ActionPause:  persistence.RunPaused,
	ActionResume: persistence.RunExecuting,
	ActionStop:   persistence.RunStopped,
}

type Config struct {
	Store      *persistence.Store
	Queue      *queue.Queue
	Caller     agent.Caller
	Debugger   *autodebug.Engine
	Classifier *classifier.Classifier
	Memory     *memory.Extractor
	Consult    *consult.Service
	Bus        *bus.Bus

	// BaseContext bounds background run loops. It should live as long as
	// the server, not a request.
	BaseContext  context.Context
	PausePoll    time.Duration
	ReviewEvery  int
	ExpandPrompt bool
	// VisualCheck asks Morgan to score a screenshot of the finished scene.
	VisualCheck bool
	// Trailer places cinematic cameras after a run with completed tasks.
	Trailer bool

	Tracer  trace.Tracer
	Metrics *otelPkg.Metrics
	Logger  *slog.Logger
}

type Orchestrator struct {
	store      *persistence.Store
	queue      *queue.Queue
	caller     agent.Caller
	debugger   *autodebug.Engine
	classifier *classifier.Classifier
	memory     *memory.Extractor
	consult    *consult.Service
	bus        *bus.Bus

	baseCtx      context.Context
	pausePoll    time.Duration
	reviewEvery  int
	expandPrompt bool
	visualOn     bool
	trailerOn    bool

	tracer  trace.Tracer
	metrics *otelPkg.Metrics
	logger  *slog.Logger

	mu   sync.Mutex
	live map[string]struct{}
	wg   sync.WaitGroup
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:        cfg.Store,
		queue:        cfg.Queue,
		caller:       cfg.Caller,
		debugger:     cfg.Debugger,
		classifier:   cfg.Classifier,
		memory:       cfg.Memory,
		consult:      cfg.Consult,
		bus:          cfg.Bus,
		baseCtx:      cfg.BaseContext,
		pausePoll:    cfg.PausePoll,
		reviewEvery:  cfg.ReviewEvery,
		expandPrompt: cfg.ExpandPrompt,
		visualOn:     cfg.VisualCheck,
		trailerOn:    cfg.Trailer,
		tracer:       cfg.Tracer,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		live:         make(map[string]struct{}),
	}
	if o.baseCtx == nil {
		o.baseCtx = context.Background()
	}
	if o.pausePoll <= 0 {
		o.pausePoll = defaultPausePoll
	}
	// Zero means the default; a negative interval disables reviews.
	if o.reviewEvery == 0 {
		o.reviewEvery = defaultReviewEvery
	}
	if o.classifier == nil {
		o.classifier = classifier.New(classifier.DefaultThresholds())
	}
	if o.tracer == nil {
		o.tracer = otelPkg.Noop().Tracer
	}
	if o.metrics == nil {
		o.metrics = otelPkg.NoopMetrics()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// SetPausePoll changes how often a paused run re-reads its status.
func (o *Orchestrator) SetPausePoll(d time.Duration) {
	if d <= 0 {
		d = defaultPausePoll
	}
	o.mu.Lock()
	o.pausePoll = d
	o.mu.Unlock()
}

func (o *Orchestrator) pauseInterval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pausePoll
}

// StartResult is returned by StartRun.
type StartResult struct {
	RunID     string `json:"run_id"`
	TaskCount int    `json:"task_count"`
}

// StartRun plans a run and executes it in the background. The loop is
// bound to the orchestrator's base context, so it outlives ctx.
func (o *Orchestrator) StartRun(ctx context.Context, projectID, prompt string) (*StartResult, error) {
	run, plan, err := o.begin(ctx, projectID, prompt)
	if err != nil {
		return nil, err
	}
	o.track(run.ID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.untrack(run.ID)
		loopCtx := shared.WithRunID(shared.WithProjectID(o.baseCtx, projectID), run.ID)
		o.execute(loopCtx, run, plan)
	}()
	return &StartResult{RunID: run.ID, TaskCount: len(plan.Tasks)}, nil
}

// Run plans and executes a run synchronously and returns its final status.
func (o *Orchestrator) Run(ctx context.Context, projectID, prompt string) (*StatusReport, error) {
	run, plan, err := o.begin(ctx, projectID, prompt)
	if err != nil {
		return nil, err
	}
	o.track(run.ID)
	defer o.untrack(run.ID)
	o.execute(shared.WithRunID(shared.WithProjectID(ctx, projectID), run.ID), run, plan)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.GetRunStatus(ctx, projectID)
}

// Wait blocks until every background run loop has returned.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) track(runID string) {
	o.mu.Lock()
	o.live[runID] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(runID string) {
	o.mu.Lock()
	delete(o.live, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) isLive(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.live[runID]
	return ok
}

// begin creates the run, asks the planner for a plan and moves the run to
// executing. A run stopped while the planner was working is returned as
// is; the loop sees the stop on its first read and finishes it.
func (o *Orchestrator) begin(ctx context.Context, projectID, prompt string) (*persistence.BuildRun, *Plan, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, nil, &shared.ValidationError{Field: "project_id"}
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, nil, &shared.ValidationError{Field: "prompt"}
	}
	ctx = shared.WithProjectID(ctx, projectID)

	run, err := o.store.CreateRun(ctx, projectID, prompt)
	if err != nil {
		if errors.Is(err, persistence.ErrRunActive) {
			return nil, nil, ErrRunActive
		}
		return nil, nil, fmt.Errorf("create run: %w", err)
	}
	ctx, span := otelPkg.StartSpan(ctx, o.tracer, "coordinator.plan",
		otelPkg.AttrProjectID.String(projectID), otelPkg.AttrRunID.String(run.ID))
	defer span.End()

	o.progress(ctx, projectID, fmt.Sprintf("Build run started: %q", shorten(prompt, 80)))

	plan := o.requestPlan(ctx, projectID, prompt)
	planJSON, err := plan.encode()
	if err == nil {
		err = o.store.SaveRunProgress(ctx, run.ID, planJSON, 0)
	}
	if err == nil {
		_, err = o.store.TransitionRun(ctx, run.ID, persistence.RunExecuting, nil)
		if errors.Is(err, persistence.ErrIllegalTransition) && o.stopped(ctx, run.ID) {
			o.logger.Info("build run stopped during planning", "project_id", projectID, "run_id", run.ID)
			err = nil
		}
	}
	if err != nil {
		o.failRun(ctx, run, "Planning failed: "+err.Error())
		return nil, nil, fmt.Errorf("store plan: %w", err)
	}
	o.progress(ctx, projectID, fmt.Sprintf("Project plan created: %d tasks", len(plan.Tasks)))
	o.metrics.ActiveRuns.Add(ctx, 1)
	o.logger.Info("build run planned", "project_id", projectID, "run_id", run.ID, "tasks", len(plan.Tasks))
	return run, plan, nil
}

func (o *Orchestrator) stopped(ctx context.Context, runID string) bool {
	current, err := o.store.GetRun(ctx, runID)
	return err == nil && current.Status == persistence.RunStopped
}

func (o *Orchestrator) requestPlan(ctx context.Context, projectID, brief string) *Plan {
	reply, err := o.caller.Call(agent.WithPurpose(ctx, agent.PurposePlan), agent.Nima, planPrompt(brief), o.projectContext(ctx, projectID, agent.Nima, brief))
	if err != nil {
		o.logger.Warn("planner call failed; using fallback plan", "project_id", projectID, "error", err)
		o.event(ctx, projectID, "error", agent.Nima, "Planning failed: "+err.Error())
		plan, _ := ParsePlan("", brief)
		return plan
	}
	o.afterTurn(ctx, projectID, agent.Nima, reply, brief)
	plan, source := ParsePlan(reply, brief)
	o.event(ctx, projectID, "plan", agent.Nima, fmt.Sprintf("Plan parsed from %s: %d tasks", source, len(plan.Tasks)))
	return plan
}

// execute is the cooperative run loop: one task per iteration, with the
// run's status re-read before each.
func (o *Orchestrator) execute(ctx context.Context, run *persistence.BuildRun, plan *Plan) {
	ctx, span := otelPkg.StartSpan(ctx, o.tracer, "coordinator.run",
		otelPkg.AttrProjectID.String(run.ProjectID), otelPkg.AttrRunID.String(run.ID))
	defer span.End()
	defer o.metrics.ActiveRuns.Add(context.WithoutCancel(ctx), -1)

	finished := 0
	announcedPause := false
	for {
		if ctx.Err() != nil {
			o.logger.Warn("run loop cancelled", "run_id", run.ID, "error", ctx.Err())
			return
		}
		current, err := o.store.GetRun(ctx, run.ID)
		if err != nil {
			o.logger.Error("read run failed", "run_id", run.ID, "error", err)
			return
		}

		switch current.Status {
		case persistence.RunPaused:
			if !announcedPause {
				o.progress(ctx, run.ProjectID, "Project paused. Resume to continue.")
				announcedPause = true
			}
			select {
			case <-ctx.Done():
			case <-time.After(o.pauseInterval()):
			}
			continue
		case persistence.RunStopped:
			o.progress(ctx, run.ProjectID, "Project stopped by Boss.")
			o.finish(ctx, run, plan)
			return
		case persistence.RunExecuting:
			if announcedPause {
				o.progress(ctx, run.ProjectID, "Project resumed.")
			}
			announcedPause = false
		default:
			o.logger.Warn("run left executing outside the loop", "run_id", run.ID, "status", current.Status)
			return
		}

		for _, i := range plan.failBlocked() {
			t := plan.Tasks[i]
			o.progress(ctx, run.ProjectID, fmt.Sprintf("Task %d/%d: %s skipped, %s.", i+1, len(plan.Tasks), t.Title, t.Error))
			o.metrics.RunTasks.Add(ctx, 1, metric.WithAttributes(otelPkg.AttrStatus.String(string(TaskFailed))))
		}

		idx := plan.nextEligible()
		if idx < 0 {
			break
		}
		o.runTask(ctx, run, plan, idx)
		if ctx.Err() != nil {
			return
		}
		finished++

		if o.reviewEvery > 0 && finished%o.reviewEvery == 0 && plan.remaining() {
			o.review(ctx, run, plan, finished)
		}
	}
	o.finish(ctx, run, plan)
}

func (o *Orchestrator) runTask(ctx context.Context, run *persistence.BuildRun, plan *Plan, idx int) {
	t := &plan.Tasks[idx]
	total := len(plan.Tasks)
	ctx, span := otelPkg.StartSpan(ctx, o.tracer, "coordinator.task",
		otelPkg.AttrRunID.String(run.ID), otelPkg.AttrAgent.String(t.AssignedTo))
	defer span.End()

	t.Status = TaskExecuting
	t.Attempts++
	o.saveProgress(ctx, run.ID, plan, idx)
	o.bus.Publish(bus.TopicRunTaskStarted, bus.RunEvent{
		RunID: run.ID, ProjectID: run.ProjectID, Status: string(TaskExecuting), TaskID: t.ID, TaskIndex: idx,
	})
	o.progress(ctx, run.ProjectID, fmt.Sprintf("Task %d/%d: %s… (%s)", idx+1, total, t.Title, t.AssignedTo))

	o.performTask(ctx, run, t, idx)
	if ctx.Err() != nil {
		return
	}

	switch t.Status {
	case TaskCompleted:
		o.progress(ctx, run.ProjectID, fmt.Sprintf("Task %d/%d: Complete!", idx+1, total))
	case TaskFailed:
		o.system(ctx, run.ProjectID, fmt.Sprintf("Task %d/%d: %s failed: %s. Continuing.", idx+1, total, t.Title, t.Error))
	}
	o.saveProgress(ctx, run.ID, plan, idx)
	o.metrics.RunTasks.Add(ctx, 1, metric.WithAttributes(otelPkg.AttrStatus.String(string(t.Status))))
	o.bus.Publish(bus.TopicRunTaskFinished, bus.RunEvent{
		RunID: run.ID, ProjectID: run.ProjectID, Status: string(t.Status), TaskID: t.ID, TaskIndex: idx,
	})
}

// performTask generates, submits and (when needed) debugs one task,
// leaving t completed or failed. On cancellation t is left executing.
func (o *Orchestrator) performTask(ctx context.Context, run *persistence.BuildRun, t *Task, idx int) {
	projectID := run.ProjectID
	projectContext := o.projectContext(ctx, projectID, t.AssignedTo, run.Prompt)

	reply, err := o.caller.Call(agent.WithPurpose(ctx, agent.PurposeCode), t.AssignedTo, codePrompt(*t, run.Prompt), projectContext)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.failTask(t, "agent call failed: "+err.Error())
		return
	}
	o.afterTurn(ctx, projectID, t.AssignedTo, reply, t.Description)

	if id, ok := agent.Lookup(t.AssignedTo); ok && id.TextOnly {
		o.chat(ctx, projectID, id.Name, id.Title, reply, persistence.TurnDiscussion)
		t.Status = TaskCompleted
		t.Result = shared.Truncate(reply, 500)
		return
	}

	code := agent.ExtractPythonCode(reply)
	if code == "" {
		o.failTask(t, "No valid engine Python code in response")
		o.event(ctx, projectID, "error", t.AssignedTo, "No code for task: "+t.Title)
		return
	}
	code, _ = safety.Normalize(code)
	t.Code = code

	out, err := o.queue.ExecuteAndWait(ctx, projectID, code, t.AssignedTo)
	t.CommandID = out.CommandID
	switch {
	case out.Rejected:
		o.failTask(t, out.Error)
		o.event(ctx, projectID, "safety_rejected", t.AssignedTo, out.Error)
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		o.failTask(t, err.Error())
		return
	case out.TimedOut:
		o.failTask(t, queue.ErrPollTimeout.Error())
		t.TimedOut = true
		o.event(ctx, projectID, "timeout", t.AssignedTo, fmt.Sprintf("Task %d timed out waiting for relay", idx+1))
		return
	case out.Succeeded():
		t.Status = TaskCompleted
		t.Result = out.Result
		return
	}

	t.Error = out.Error
	if o.debugger == nil {
		o.failTask(t, out.Error)
		return
	}
	outcome, err := o.debugger.DebugAndRetry(ctx, autodebug.Invocation{
		ProjectID: projectID,
		Code:      code,
		Error:     out.Error,
		AgentName: t.AssignedTo,
		CommandID: out.CommandID,
	}, projectContext, o.executor(t), 0)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.failTask(t, err.Error())
		return
	}
	switch {
	case outcome.Fixed:
		t.Status = TaskCompleted
		t.Code = outcome.Code
		t.Error = ""
	case outcome.TimedOut:
		o.failTask(t, queue.ErrPollTimeout.Error())
		t.TimedOut = true
		t.Code = outcome.Code
		o.event(ctx, projectID, "timeout", t.AssignedTo, fmt.Sprintf("Task %d fix timed out waiting for relay", idx+1))
	default:
		o.failTask(t, orDefault(outcome.LastError, out.Error))
	}
}

// executor resubmits debug fixes through the same normalize, submit and
// wait pipeline a task uses.
func (o *Orchestrator) executor(t *Task) autodebug.Executor {
	return func(ctx context.Context, projectID, code, agentName string) autodebug.ExecResult {
		code, _ = safety.Normalize(code)
		t.Attempts++
		out, err := o.queue.ExecuteAndWait(ctx, projectID, code, agentName)
		if out.CommandID != "" {
			t.CommandID = out.CommandID
		}
		res := execResult(out, err)
		if res.Success {
			t.Result = out.Result
		}
		return res
	}
}

func (o *Orchestrator) failTask(t *Task, reason string) {
	t.Status = TaskFailed
	t.Error = orDefault(reason, "Execution failed")
}

func (o *Orchestrator) review(ctx context.Context, run *persistence.BuildRun, plan *Plan, finished int) {
	completed, failed := plan.Counts()
	o.progress(ctx, run.ProjectID, fmt.Sprintf("%s reviewing tasks 1-%d…", agent.Morgan, finished))
	reply, err := o.caller.Call(agent.WithPurpose(ctx, agent.PurposeReview), agent.Morgan,
		reviewPrompt(finished, len(plan.Tasks), completed, failed), o.projectContext(ctx, run.ProjectID, agent.Morgan, run.Prompt))
	if err != nil {
		o.event(ctx, run.ProjectID, "error", agent.Morgan, "Progress review failed: "+err.Error())
		return
	}
	id, _ := agent.Lookup(agent.Morgan)
	o.chat(ctx, run.ProjectID, id.Name, id.Title, reply, persistence.TurnCritique)
	o.afterTurn(ctx, run.ProjectID, agent.Morgan, reply, "")
}

// finish writes the summary and moves the run to its terminal status. A
// run stopped mid-loop keeps stopped.
func (o *Orchestrator) finish(ctx context.Context, run *persistence.BuildRun, plan *Plan) {
	completed, failed := plan.Counts()
	total := len(plan.Tasks)

	current, err := o.store.GetRun(ctx, run.ID)
	if err != nil {
		o.logger.Error("read run before finish failed", "run_id", run.ID, "error", err)
		return
	}
	if planJSON, err := plan.encode(); err == nil {
		if err := o.store.SaveRunProgress(ctx, run.ID, planJSON, current.CurrentTaskIndex); err != nil {
			o.logger.Warn("save final plan failed", "run_id", run.ID, "error", err)
		}
	}

	if current.Status != persistence.RunStopped && completed > 0 && ctx.Err() == nil {
		if o.visualOn {
			o.visualCheck(ctx, run, plan)
		}
		if o.trailerOn {
			o.trailer(ctx, run)
		}
	}

	status := persistence.RunCompleted
	word := "complete"
	switch {
	case current.Status == persistence.RunStopped:
		status, word = persistence.RunStopped, "stopped"
	case total > 0 && failed == total:
		status = persistence.RunFailed
	}
	summary := fmt.Sprintf("Project %s! %d/%d tasks succeeded, %d failed.", word, completed, total, failed)

	switch {
	case status == persistence.RunStopped:
		err = o.store.SetRunSummary(ctx, run.ID, summary)
	case current.Status == persistence.RunPaused:
		// Paused after the last task: resume so the terminal move is legal.
		if _, err = o.store.TransitionRun(ctx, run.ID, persistence.RunExecuting, nil); err == nil {
			_, err = o.store.TransitionRun(ctx, run.ID, status, &summary)
		}
	default:
		_, err = o.store.TransitionRun(ctx, run.ID, status, &summary)
	}
	if err != nil {
		o.logger.Error("finish run failed", "run_id", run.ID, "status", status, "error", err)
	}

	o.progress(ctx, run.ProjectID, summary)
	if status == persistence.RunFailed {
		o.system(ctx, run.ProjectID, "Build run failed: every task failed.")
	}
	o.event(ctx, run.ProjectID, "run_finished", shared.SystemAgent, summary)
	o.bus.Publish(bus.TopicRunFinished, bus.RunEvent{RunID: run.ID, ProjectID: run.ProjectID, Status: string(status)})
	o.logger.Info("build run finished", "project_id", run.ProjectID, "run_id", run.ID, "status", status,
		"completed", completed, "failed", failed, "total", total)
}

func (o *Orchestrator) failRun(ctx context.Context, run *persistence.BuildRun, reason string) {
	if _, err := o.store.TransitionRun(ctx, run.ID, persistence.RunFailed, &reason); err != nil {
		o.logger.Error("fail run", "run_id", run.ID, "error", err)
	}
	o.system(ctx, run.ProjectID, "Build run failed: "+reason)
}

// StatusReport is the client-facing view of a run.
type StatusReport struct {
	RunID            string                `json:"run_id"`
	Status           persistence.RunStatus `json:"status"`
	CurrentTaskIndex int                   `json:"current_task_index"`
	TotalTasks       int                   `json:"total_tasks"`
	CurrentTaskTitle string                `json:"current_task_title,omitempty"`
	Plan             []Task                `json:"plan"`
	Summary          string                `json:"summary,omitempty"`
}

// GetRunStatus reports the project's latest run, active or not.
func (o *Orchestrator) GetRunStatus(ctx context.Context, projectID string) (*StatusReport, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, &shared.ValidationError{Field: "project_id"}
	}
	run, err := o.store.GetLatestRun(ctx, projectID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	plan, err := decodePlan(run.PlanJSON)
	if err != nil {
		return nil, err
	}
	rep := &StatusReport{
		RunID:            run.ID,
		Status:           run.Status,
		CurrentTaskIndex: run.CurrentTaskIndex,
		TotalTasks:       len(plan.Tasks),
		Plan:             plan.Tasks,
		Summary:          run.Summary,
	}
	if rep.Plan == nil {
		rep.Plan = []Task{}
	}
	rep.CurrentTaskTitle = currentTitle(plan, run.CurrentTaskIndex)
	return rep, nil
}

// currentTitle prefers the task in flight. The stored index only moves
// forward, so under dependency ordering it can point past that task.
func currentTitle(plan *Plan, idx int) string {
	for _, t := range plan.Tasks {
		if t.Status == TaskExecuting {
			return t.Title
		}
	}
	if idx >= 0 && idx < len(plan.Tasks) {
		return plan.Tasks[idx].Title
	}
	return ""
}

// ControlRun pauses, resumes or stops the project's active run. Only the
// status changes; the loop notices on its next iteration.
func (o *Orchestrator) ControlRun(ctx context.Context, projectID, action string) error {
	if strings.TrimSpace(projectID) == "" {
		return &shared.ValidationError{Field: "project_id"}
	}
	to, ok := actionTargets[Action(strings.ToLower(strings.TrimSpace(action)))]
	if !ok {
		return &shared.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q (want pause, resume or stop)", action)}
	}
	run, err := o.store.GetActiveRun(ctx, projectID)
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNoActiveRun
	}
	if err != nil {
		return fmt.Errorf("read active run: %w", err)
	}
	from, err := o.store.TransitionRun(ctx, run.ID, to, nil)
	if err != nil {
		return err
	}
	audit.Record(ctx, audit.DecisionAccept, "run.control", action, projectID+"/"+run.ID)
	o.event(ctx, projectID, "run_control", shared.SystemAgent, fmt.Sprintf("Run %s: %s -> %s", action, from, to))
	o.logger.Info("run control", "project_id", projectID, "run_id", run.ID, "from", from, "to", to)
	return nil
}

// ReconcileOrphans fails planning or executing runs that have made no
// progress within olderThan and have no live loop in this process. It
// returns how many runs were failed.
func (o *Orchestrator) ReconcileOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	runs, err := o.store.ListStaleActiveRuns(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range runs {
		if o.isLive(r.ID) {
			continue
		}
		reason := fmt.Sprintf("Run interrupted: no progress for %s.", olderThan)
		if _, err := o.store.TransitionRun(ctx, r.ID, persistence.RunFailed, &reason); err != nil {
			if errors.Is(err, persistence.ErrIllegalTransition) {
				continue
			}
			return n, err
		}
		o.system(ctx, r.ProjectID, "Build run failed: "+reason)
		o.logger.Warn("orphaned run failed", "project_id", r.ProjectID, "run_id", r.ID)
		n++
	}
	return n, nil
}

func (o *Orchestrator) saveProgress(ctx context.Context, runID string, plan *Plan, idx int) {
	planJSON, err := plan.encode()
	if err == nil {
		err = o.store.SaveRunProgress(ctx, runID, planJSON, idx)
	}
	if err != nil {
		o.logger.Warn("save run progress failed", "run_id", runID, "error", err)
	}
}

// projectContext is the brief plus the agent's memory block.
func (o *Orchestrator) projectContext(ctx context.Context, projectID, agentName, brief string) string {
	var b strings.Builder
	b.WriteString("Project brief: ")
	b.WriteString(brief)
	b.WriteString("\n")
	if o.memory != nil {
		b.WriteString(o.memory.ContextFor(ctx, projectID, agentName))
	}
	return b.String()
}

// afterTurn feeds an agent reply to the memory extractor and the
// consultation trigger. Neither can fail the turn.
func (o *Orchestrator) afterTurn(ctx context.Context, projectID, agentName, reply, prompt string) {
	if o.memory != nil {
		_, _ = o.memory.ExtractAndSave(ctx, projectID, agentName, reply, prompt)
	}
	if o.consult != nil {
		if _, err := o.consult.AfterTurn(ctx, projectID, agentName, reply, ""); err != nil {
			o.logger.Warn("consultation failed", "project_id", projectID, "agent", agentName, "error", err)
		}
	}
}

func (o *Orchestrator) progress(ctx context.Context, projectID, content string) {
	o.chat(ctx, projectID, shared.SystemAgent, progressTitle, content, persistence.TurnProgress)
}

func (o *Orchestrator) system(ctx context.Context, projectID, content string) {
	o.chat(ctx, projectID, shared.SystemAgent, "", content, persistence.TurnSystem)
}

func (o *Orchestrator) chat(ctx context.Context, projectID, who, title, content string, tt persistence.TurnType) {
	if err := o.store.AddChat(ctx, projectID, who, title, content, tt); err != nil {
		o.logger.Warn("history write failed", "project_id", projectID, "error", err)
	}
}

func (o *Orchestrator) event(ctx context.Context, projectID, eventType, who, detail string) {
	if err := o.store.LogEvent(ctx, projectID, eventType, who, detail); err != nil {
		o.logger.Warn("event log write failed", "project_id", projectID, "error", err)
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return shared.Truncate(s, n) + "…"
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
