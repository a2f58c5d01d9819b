package coordinator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/scenecrew/internal/agent"
)

// PlanSource records which parser produced a plan.
type PlanSource string

const (
	PlanFromJSON     PlanSource = "json"
	PlanFromLines    PlanSource = "lines"
	PlanFromFallback PlanSource = "fallback"
)

const fallbackTitle = "Execute project"

const planSchemaJSON = `{
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title", "assigned_to"],
        "properties": {
          "id":          {"type": "string"},
          "title":       {"type": "string", "minLength": 1},
          "assigned_to": {"type": "string"},
          "description": {"type": ["string", "null"]},
          "depends_on":  {"type": ["array", "null"], "items": {"type": "string"}}
        }
      }
    }
  }
}`

// planSchema validates planner replies.
var planSchema = mustCompileSchema(planSchemaJSON)

func mustCompileSchema(src string) *jsonschema.Schema {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("unmarshal plan schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", doc); err != nil {
		panic(fmt.Sprintf("add plan schema: %v", err))
	}
	s, err := c.Compile("plan.json")
	if err != nil {
		panic(fmt.Sprintf("compile plan schema: %v", err))
	}
	return s
}

type planReply struct {
	Tasks []struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		AssignedTo  string   `json:"assigned_to"`
		Description string   `json:"description"`
		DependsOn   []string `json:"depends_on"`
	} `json:"tasks"`
}

// ParsePlan turns a planner reply into a validated plan. It tries a JSON
// task list, then TASK| lines, then a single fallback task. Unknown agents
// are reassigned to Thomas. It never returns an invalid plan.
func ParsePlan(reply, brief string) (*Plan, PlanSource) {
	if p, err := parseJSONPlan(reply); err == nil {
		return p, PlanFromJSON
	}
	if p := parseLinePlan(reply); p != nil {
		return p, PlanFromLines
	}
	return fallbackPlan(brief), PlanFromFallback
}

func parseJSONPlan(reply string) (*Plan, error) {
	raw := extractJSON(reply)
	if raw == "" {
		return nil, fmt.Errorf("no JSON in planner reply")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := planSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var pr planReply
	if err := json.Unmarshal([]byte(raw), &pr); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	p := &Plan{}
	for i, t := range pr.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		p.Tasks = append(p.Tasks, Task{
			ID:          id,
			Title:       strings.TrimSpace(t.Title),
			AssignedTo:  resolveAgent(t.AssignedTo),
			Description: strings.TrimSpace(t.Description),
			DependsOn:   t.DependsOn,
			Status:      TaskPending,
		})
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// parseLinePlan reads "TASK|Title|Description|Agent" lines. Each task
// depends on the previous one.
func parseLinePlan(reply string) *Plan {
	p := &Plan{}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "TASK|") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
			continue
		}
		t := Task{
			ID:     fmt.Sprintf("task-%d", len(p.Tasks)+1),
			Title:  strings.TrimSpace(parts[1]),
			Status: TaskPending,
		}
		if len(parts) > 2 {
			t.Description = strings.TrimSpace(parts[2])
		}
		agentName := ""
		if len(parts) > 3 {
			agentName = parts[3]
		}
		t.AssignedTo = resolveAgent(agentName)
		if n := len(p.Tasks); n > 0 {
			t.DependsOn = []string{p.Tasks[n-1].ID}
		}
		p.Tasks = append(p.Tasks, t)
	}
	if len(p.Tasks) == 0 {
		return nil
	}
	return p
}

func fallbackPlan(brief string) *Plan {
	return &Plan{Tasks: []Task{{
		ID:          "task-1",
		Title:       fallbackTitle,
		AssignedTo:  agent.Thomas,
		Description: brief,
		Status:      TaskPending,
	}}}
}

func resolveAgent(name string) string {
	if c := agent.Canonical(name); c != "" {
		return c
	}
	return agent.Thomas
}

// extractJSON finds a JSON object in a fenced block or raw text.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end >= 0 {
			if candidate := strings.TrimSpace(text[start : start+end]); isJSON(candidate) {
				return candidate
			}
		}
	}
	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			if candidate := strings.TrimSpace(text[start : start+end]); isJSON(candidate) {
				return candidate
			}
		}
	}
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			if candidate := extractBalanced(text[i:]); candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isJSON(s string) bool {
	return json.Valid([]byte(s))
}

// extractBalanced returns the balanced object at the start of s.
func extractBalanced(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
