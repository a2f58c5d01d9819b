package agent

import (
	"context"
	"fmt"
	"strings"
)

// Caller is the black-box agent invocation. projectContext is background
// the agent should see; prompt is the actual request.
type Caller interface {
	Call(ctx context.Context, agentName, prompt, projectContext string) (string, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, agentName, prompt, projectContext string) (string, error)

func (f CallerFunc) Call(ctx context.Context, agentName, prompt, projectContext string) (string, error) {
	return f(ctx, agentName, prompt, projectContext)
}

// Purpose tags why an agent is being called. Deterministic responders use
// it to pick a reply shape.
type Purpose string

const (
	PurposeChat    Purpose = "chat"
	PurposePlan    Purpose = "plan"
	PurposeExpand  Purpose = "expand"
	PurposeCode    Purpose = "code"
	PurposeDebug   Purpose = "debug"
	PurposeReview  Purpose = "review"
	PurposeConsult Purpose = "consult"
	PurposeVisual  Purpose = "visual"
)

type purposeKeyType struct{}

var purposeKey = purposeKeyType{}

func WithPurpose(ctx context.Context, p Purpose) context.Context {
	return context.WithValue(ctx, purposeKey, p)
}

// PurposeFrom returns the call purpose, PurposeChat when unset.
func PurposeFrom(ctx context.Context) Purpose {
	if p, ok := ctx.Value(purposeKey).(Purpose); ok && p != "" {
		return p
	}
	return PurposeChat
}

// SystemPrompt renders the persona and project context for an agent.
func SystemPrompt(id Identity, projectContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the %s of the studio team. Address the user as Boss.\n\n", id.Name, id.Title)
	b.WriteString(id.Persona)
	b.WriteString("\n\n=== PROJECT CONTEXT ===\n")
	if strings.TrimSpace(projectContext) == "" {
		b.WriteString("(none)")
	} else {
		b.WriteString(projectContext)
	}
	b.WriteString("\n\n=== RULES ===\n")
	b.WriteString("- Stay in character.\n")
	b.WriteString("- Be concise but thorough.\n")
	b.WriteString("- Engine scripts are Python using the unreal module.\n")
	b.WriteString("- Collaborate respectfully with other team members.\n")
	return b.String()
}

// Line prefixes used when a prompt carries a structured brief or task.
// Deterministic responders read these instead of the surrounding prose.
const (
	BriefPrefix = "Brief: "
	TaskPrefix  = "Task: "
)

// PromptField returns the text after prefix on its first line, up to the
// next blank line. ok is false when the prompt has no such line.
func PromptField(prompt, prefix string) (string, bool) {
	lines := strings.Split(prompt, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		parts := []string{strings.TrimPrefix(line, prefix)}
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" {
				break
			}
			parts = append(parts, next)
		}
		return strings.TrimSpace(strings.Join(parts, "\n")), true
	}
	return "", false
}
