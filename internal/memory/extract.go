package memory

import (
	"regexp"
	"strings"

	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/shared"
)

const (
	defaultMaxPerTurn      = 3
	defaultMaxContentChars = 300

	learningThreshold = 500
	learningChars     = 250
	promptChars       = 100
)

// Record is one memory candidate pulled from an agent reply.
type Record struct {
	Type    persistence.MemoryType `json:"memory_type"`
	Content string                 `json:"content"`
	Context string                 `json:"context"`
}

// Limits bounds what a single turn may produce.
type Limits struct {
	MaxPerTurn      int
	MaxContentChars int
}

func (l Limits) withDefaults() Limits {
	if l.MaxPerTurn <= 0 {
		l.MaxPerTurn = defaultMaxPerTurn
	}
	if l.MaxContentChars <= 0 {
		l.MaxContentChars = defaultMaxContentChars
	}
	return l
}

// At most one decision is taken per pattern.
var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:I (?:suggest|recommend|propose|think we should|believe))\s+(.{20,200})`),
	regexp.MustCompile(`(?i)(?:we should|let's|the plan is to)\s+(.{20,200})`),
}

var pythonBlockRe = regexp.MustCompile("(?s)```python.*?```")

// Extract returns the memories worth keeping from one agent reply using the
// default limits.
func Extract(agentName, output, prompt string) []Record {
	return ExtractWith(agentName, output, prompt, Limits{})
}

// ExtractWith is Extract with explicit limits. It is pure.
func ExtractWith(agentName, output, prompt string, limits Limits) []Record {
	limits = limits.withDefaults()
	var out []Record

	for _, re := range decisionPatterns {
		m := re.FindString(output)
		if m == "" {
			continue
		}
		out = append(out, Record{
			Type:    persistence.MemoryDecision,
			Content: strings.TrimSpace(m),
			Context: contextFor(prompt, "Team discussion"),
		})
	}

	if pythonBlockRe.MatchString(output) {
		out = append(out, Record{
			Type:    persistence.MemoryTask,
			Content: agentName + " wrote engine Python code in response",
			Context: contextFor(prompt, "Code task"),
		})
	}

	if len(output) > learningThreshold {
		summary := strings.ReplaceAll(shared.Truncate(output, learningChars), "\n", " ")
		out = append(out, Record{
			Type:    persistence.MemoryLearning,
			Content: strings.TrimSpace(summary),
			Context: contextFor(prompt, "Discussion"),
		})
	}

	if len(out) > limits.MaxPerTurn {
		out = out[:limits.MaxPerTurn]
	}
	for i := range out {
		out[i].Content = shared.Truncate(out[i].Content, limits.MaxContentChars)
	}
	return out
}

func contextFor(prompt, fallback string) string {
	if strings.TrimSpace(prompt) == "" {
		return fallback
	}
	return `Boss asked: "` + shared.Truncate(prompt, promptChars) + `"`
}
