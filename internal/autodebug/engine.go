// Package autodebug retries failed engine scripts: first with a fixed table
// of known rewrites, then with bounded help from the reviewer agent.
package autodebug

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/bus"
	otelPkg "github.com/basket/scenecrew/internal/otel"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/shared"
)

const defaultMaxAttempts = 3

// Messages written to conversation history.
const (
	MsgAgentFixed = "Bug fixed by Morgan and re-executed successfully."
	MsgNoFix      = "Morgan could not produce an auto-fix. Please fix the code manually."
	MsgTimedOut   = "Fix submitted, but the relay did not report back in time. It may still run, so auto-debug stopped without retrying."
)

// Tier names how a failure was resolved.
type Tier string

const (
	TierNone    Tier = "none"
	TierPattern Tier = "pattern"
	TierAgent   Tier = "agent"
)

// Invocation describes the failed execution to debug.
type Invocation struct {
	ProjectID string `json:"project_id"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	AgentName string `json:"agent_name"`
	CommandID string `json:"command_id,omitempty"`
}

// ExecResult is what an Executor reports back. TimedOut means the command
// was queued but never reached a terminal status; it is not a failure of
// the code and may still execute.
type ExecResult struct {
	Success   bool
	TimedOut  bool
	Error     string
	CommandID string
}

// Executor runs code through the full submit-and-wait pipeline.
type Executor func(ctx context.Context, projectID, code, agentName string) ExecResult

// Outcome is the result of one DebugAndRetry call.
type Outcome struct {
	Fixed     bool   `json:"fixed"`
	Tier      Tier   `json:"tier"`
	Attempts  int    `json:"attempts"`
	Exhausted bool   `json:"exhausted,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	CommandID string `json:"command_id,omitempty"`
	Code      string `json:"code,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// MemorySink receives Morgan's analyses so discoveries and lessons in them
// reach project memory. *memory.Extractor satisfies it.
type MemorySink interface {
	ExtractAndSave(ctx context.Context, projectID, agentName, output, prompt string) (int, error)
}

type Config struct {
	Store       *persistence.Store
	Caller      agent.Caller
	Bus         *bus.Bus
	Memory      MemorySink
	MaxAttempts int
	Metrics     *otelPkg.Metrics
	Logger      *slog.Logger
}

type Engine struct {
	store       *persistence.Store
	caller      agent.Caller
	bus         *bus.Bus
	memory      MemorySink
	maxAttempts int
	metrics     *otelPkg.Metrics
	logger      *slog.Logger
}

func New(cfg Config) *Engine {
	e := &Engine{
		store:       cfg.Store,
		caller:      cfg.Caller,
		bus:         cfg.Bus,
		memory:      cfg.Memory,
		maxAttempts: cfg.MaxAttempts,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.metrics == nil {
		e.metrics = otelPkg.NoopMetrics()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// MaxAttempts is the configured agent budget.
func (e *Engine) MaxAttempts() int { return e.maxAttempts }

// DebugAndRetry tries a pattern fix once, then up to maxAttempts reviewer
// fixes. The budget is fresh on every call. A non-positive maxAttempts uses
// the configured budget. A resubmission that times out ends the call with
// Outcome.TimedOut: nothing more is generated or queued. The returned
// error is reserved for cancellation and store failures.
func (e *Engine) DebugAndRetry(ctx context.Context, inv Invocation, projectContext string, exec Executor, maxAttempts int) (Outcome, error) {
	if maxAttempts <= 0 {
		maxAttempts = e.maxAttempts
	}
	on, err := e.store.DebugModeAuto(ctx, inv.ProjectID)
	if err != nil {
		return Outcome{}, fmt.Errorf("read debug mode: %w", err)
	}
	if !on {
		return Outcome{Skipped: true, Tier: TierNone, Code: inv.Code, LastError: inv.Error}, nil
	}

	ctx = shared.WithProjectID(ctx, inv.ProjectID)
	current := inv

	if fixed, p, ok := QuickFix(current.Code, current.Error); ok {
		e.recordAttempt(ctx, inv.ProjectID, 1, TierPattern)
		e.logEvent(ctx, inv.ProjectID, "debug", "Pattern fix applied: "+p.Name)
		res := exec(ctx, inv.ProjectID, fixed, current.AgentName)
		if res.TimedOut {
			return e.timedOut(ctx, current, fixed, res, TierPattern, 0), nil
		}
		if res.Success {
			e.chat(ctx, inv.ProjectID, shared.SystemAgent, "Bug fixed by a known-pattern rewrite ("+p.Name+") and re-executed successfully.", persistence.TurnSystem)
			e.logEvent(ctx, inv.ProjectID, "debug_success", "Pattern fix resolved "+p.Name)
			return Outcome{Fixed: true, Tier: TierPattern, Code: fixed}, nil
		}
		current.Code = fixed
		current.Error = orDefault(res.Error, "Execution failed")
	}

	if e.caller == nil {
		return e.exhausted(ctx, current, 0), nil
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Tier: TierAgent, Attempts: attempt - 1, Code: current.Code, LastError: current.Error}, err
		}
		if attempt == 1 {
			e.logEvent(ctx, inv.ProjectID, "debug", "Morgan debugging error from "+current.AgentName+"…")
		} else {
			e.logEvent(ctx, inv.ProjectID, "debug", fmt.Sprintf("Fix applied, attempt %d/%d", attempt, maxAttempts))
		}
		e.recordAttempt(ctx, inv.ProjectID, attempt, TierAgent)

		prompt := BuildDebugPrompt(current)
		analysis, err := e.caller.Call(agent.WithPurpose(ctx, agent.PurposeDebug), agent.Morgan, prompt, projectContext)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Tier: TierAgent, Attempts: attempt, Code: current.Code, LastError: current.Error}, ctx.Err()
			}
			analysis = "Morgan debug failed: " + err.Error()
		} else {
			e.remember(ctx, inv.ProjectID, analysis, prompt)
		}
		e.chat(ctx, inv.ProjectID, agent.Morgan, analysis, persistence.TurnCritique)

		fix := ExtractFix(analysis)
		if fix == "" {
			e.chat(ctx, inv.ProjectID, shared.SystemAgent, MsgNoFix, persistence.TurnSystem)
			e.logEvent(ctx, inv.ProjectID, "debug", fmt.Sprintf("Could not fix after %d attempt(s).", attempt))
			return Outcome{Tier: TierAgent, Attempts: attempt, Code: current.Code, LastError: current.Error}, nil
		}

		res := exec(ctx, inv.ProjectID, fix, current.AgentName)
		if res.TimedOut {
			return e.timedOut(ctx, current, fix, res, TierAgent, attempt), nil
		}
		if res.Success {
			e.chat(ctx, inv.ProjectID, shared.SystemAgent, MsgAgentFixed, persistence.TurnSystem)
			e.logEvent(ctx, inv.ProjectID, "debug_success", "Morgan auto-fixed engine error.")
			return Outcome{Fixed: true, Tier: TierAgent, Attempts: attempt, Code: fix}, nil
		}
		current.Code = fix
		current.Error = orDefault(res.Error, "Execution failed")
	}
	return e.exhausted(ctx, current, maxAttempts), nil
}

func (e *Engine) timedOut(ctx context.Context, last Invocation, code string, res ExecResult, tier Tier, attempts int) Outcome {
	e.chat(ctx, last.ProjectID, shared.SystemAgent, MsgTimedOut, persistence.TurnSystem)
	e.logEvent(ctx, last.ProjectID, "debug_timeout", "Relay did not finish command "+res.CommandID)
	e.logger.Warn("auto-debug resubmission timed out", "project_id", last.ProjectID, "agent", last.AgentName,
		"command_id", res.CommandID, "tier", tier)
	return Outcome{
		Tier:      tier,
		Attempts:  attempts,
		TimedOut:  true,
		Code:      code,
		CommandID: res.CommandID,
		LastError: orDefault(res.Error, "timed out waiting for relay"),
	}
}

func (e *Engine) exhausted(ctx context.Context, last Invocation, attempts int) Outcome {
	msg := fmt.Sprintf("Could not fix after %d attempts.", attempts)
	e.chat(ctx, last.ProjectID, shared.SystemAgent, msg, persistence.TurnSystem)
	e.logEvent(ctx, last.ProjectID, "debug_exhausted", msg)
	e.bus.Publish(bus.TopicDebugExhausted, bus.DebugEvent{
		ProjectID: last.ProjectID,
		Agent:     last.AgentName,
		Attempt:   attempts,
		Tier:      string(TierAgent),
	})
	e.logger.Warn("auto-debug exhausted", "project_id", last.ProjectID, "agent", last.AgentName, "attempts", attempts)
	return Outcome{Tier: TierAgent, Attempts: attempts, Exhausted: true, Code: last.Code, LastError: last.Error}
}

func (e *Engine) recordAttempt(ctx context.Context, projectID string, attempt int, tier Tier) {
	e.metrics.DebugAttempts.Add(ctx, 1, metric.WithAttributes(otelPkg.AttrTier.String(string(tier))))
	e.bus.Publish(bus.TopicDebugAttempt, bus.DebugEvent{
		ProjectID: projectID,
		Agent:     agent.Morgan,
		Attempt:   attempt,
		Tier:      string(tier),
	})
}

func (e *Engine) remember(ctx context.Context, projectID, analysis, prompt string) {
	if e.memory == nil {
		return
	}
	if _, err := e.memory.ExtractAndSave(ctx, projectID, agent.Morgan, analysis, prompt); err != nil {
		e.logger.Warn("memory extraction failed", "project_id", projectID, "agent", agent.Morgan, "error", err)
	}
}

func (e *Engine) chat(ctx context.Context, projectID, who, content string, tt persistence.TurnType) {
	if err := e.store.AddChat(ctx, projectID, who, "", content, tt); err != nil {
		e.logger.Warn("history write failed", "project_id", projectID, "error", err)
	}
}

func (e *Engine) logEvent(ctx context.Context, projectID, eventType, detail string) {
	if err := e.store.LogEvent(ctx, projectID, eventType, agent.Morgan, detail); err != nil {
		e.logger.Warn("event log write failed", "project_id", projectID, "error", err)
	}
}

// BuildDebugPrompt asks the reviewer for an analysis and a [FIX] block.
func BuildDebugPrompt(inv Invocation) string {
	var b strings.Builder
	b.WriteString("An engine Python execution failed. Analyze the error and provide a fix.\n\n")
	fmt.Fprintf(&b, "Original code (from %s):\n```python\n%s\n```\n\n", orDefault(inv.AgentName, "unknown"), inv.Code)
	fmt.Fprintf(&b, "Error:\n%s\n\n", inv.Error)
	if s := Suggest(inv.Error); s != "" {
		fmt.Fprintf(&b, "Known pattern hint: %s\n\n", s)
	}
	b.WriteString("Reply with:\n")
	b.WriteString("1. A short explanation of what went wrong.\n")
	b.WriteString("2. Then write [FIX] and your corrected code in a ```python code block.\n")
	b.WriteString("If you cannot fix it, say so and do not include [FIX].")
	return b.String()
}

var fixBlockRe = regexp.MustCompile("(?s)```python\\s*\\n?(.*?)```")

// ExtractFix returns the python block after the [FIX] marker, or the first
// python block when there is no marker. It returns "" when none exists.
func ExtractFix(response string) string {
	if i := strings.Index(response, "[FIX]"); i >= 0 {
		response = response[i:]
	}
	m := fixBlockRe.FindStringSubmatch(response)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
