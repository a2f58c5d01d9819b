// Package offline answers agent calls deterministically when no model
// backend is configured. Replies have the same shape a model is asked for,
// so the build pipeline runs end to end without network access.
package offline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/autodebug"
)

// Responder implements agent.Caller.
type Responder struct{}

func New() *Responder { return &Responder{} }

var (
	debugCodeRe  = regexp.MustCompile("(?s)```python\\s*\\n(.*?)```")
	debugErrorRe = regexp.MustCompile(`(?s)\nError:\n(.*?)(?:\n\n|$)`)
)

func (r *Responder) Call(ctx context.Context, agentName, prompt, _ string) (string, error) {
	id, ok := agent.Lookup(agentName)
	if !ok {
		return "", fmt.Errorf("unknown agent %q", agentName)
	}

	switch agent.PurposeFrom(ctx) {
	case agent.PurposePlan:
		brief, ok := agent.PromptField(prompt, agent.BriefPrefix)
		if !ok {
			brief = prompt
		}
		return "Here is the build plan, Boss.\n\n```json\n" + TemplatePlanJSON(brief) + "\n```", nil

	case agent.PurposeExpand:
		// An empty expansion keeps the original brief.
		return "", nil

	case agent.PurposeCode:
		if id.TextOnly {
			return fmt.Sprintf("%s here. For this scene I'd score a slow ambient pad with soft strings, "+
				"building gently as the player explores.", id.Name), nil
		}
		return "```python\n" + codeFor(prompt) + "```", nil

	case agent.PurposeDebug:
		return debugReply(prompt), nil

	case agent.PurposeVisual:
		return fmt.Sprintf("%s here. SCORE: 8\nISSUES:\n- none blocking\nAPPROVED", id.Name), nil

	case agent.PurposeReview:
		return fmt.Sprintf("%s here. Progress looks on track, Boss. No blocking issues so far.", id.Name), nil
	}
	return fmt.Sprintf("%s here. Noted, Boss.", id.Name), nil
}

func codeFor(prompt string) string {
	if title, ok := agent.PromptField(prompt, agent.TaskPrefix); ok {
		if s, ok := Match(title); ok {
			return s.Code
		}
	}
	return CodeFor(prompt)
}

// debugReply applies the known-pattern fix when one exists and otherwise
// resubmits the original code.
func debugReply(prompt string) string {
	cm := debugCodeRe.FindStringSubmatch(prompt)
	if cm == nil {
		return "I could not find the failing code in the request."
	}
	code := strings.TrimSpace(cm[1])
	errText := ""
	if em := debugErrorRe.FindStringSubmatch(prompt); em != nil {
		errText = strings.TrimSpace(em[1])
	}
	if fixed, p, ok := autodebug.QuickFix(code, errText); ok {
		return fmt.Sprintf("This matches the %s pattern. %s\n\n[FIX]\n```python\n%s\n```", p.Name, p.Suggestion, fixed)
	}
	return "No known pattern matches; retrying the script as written.\n\n[FIX]\n```python\n" + code + "\n```"
}
