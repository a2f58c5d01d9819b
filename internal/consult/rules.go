// Package consult opens peer-review sessions when an agent's reply touches
// work another specialist owns.
package consult

import (
	"regexp"
	"slices"

	"github.com/basket/scenecrew/internal/agent"
)

const maxConsultants = 3

// Trigger is the verdict of ShouldConsult.
type Trigger struct {
	Yes    bool
	Target string
	Topic  string
}

// Rule fires when Agent's output matches Match.
type Rule struct {
	Agent  string
	Match  *regexp.Regexp
	Target string
	Topic  string
}

// Rules is evaluated in order; the first match wins.
var Rules = []Rule{
	{
		Agent:  agent.Thomas,
		Match:  regexp.MustCompile("(?i)```python"),
		Target: agent.Morgan,
		Topic:  "UE5 code review",
	},
	{
		Agent:  agent.Alex,
		Match:  regexp.MustCompile(`(?i)architecture|design pattern|system design|component structure`),
		Target: agent.Nima,
		Topic:  "Architecture decision",
	},
	{
		Agent:  agent.Elena,
		Match:  regexp.MustCompile(`(?i)plot twist|major event|character death|world-changing`),
		Target: agent.Alex,
		Topic:  "Major narrative decision",
	},
}

// topicConsultants adds specialists whose domain the topic names.
var topicConsultants = []struct {
	match  *regexp.Regexp
	agents []string
}{
	{regexp.MustCompile(`(?i)code|script|python|blueprint`), []string{agent.Morgan, agent.Thomas}},
	{regexp.MustCompile(`(?i)architect|design|system|structure`), []string{agent.Alex}},
	{regexp.MustCompile(`(?i)story|lore|character|narrative`), []string{agent.Elena}},
}

// ShouldConsult reports whether output warrants a consultation.
func ShouldConsult(agentName, output string) Trigger {
	name := agent.Canonical(agentName)
	for _, r := range Rules {
		if r.Agent == name && r.Match.MatchString(output) {
			return Trigger{Yes: true, Target: r.Target, Topic: r.Topic}
		}
	}
	return Trigger{}
}

// Consultants returns the primary target followed by topic-derived extras,
// never the initiator, at most three.
func Consultants(initiator string, t Trigger) []string {
	var out []string
	add := func(name string) {
		if name != "" && name != initiator && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	add(t.Target)
	for _, tc := range topicConsultants {
		if tc.match.MatchString(t.Topic) {
			for _, a := range tc.agents {
				add(a)
			}
		}
	}
	if len(out) > maxConsultants {
		out = out[:maxConsultants]
	}
	return out
}
