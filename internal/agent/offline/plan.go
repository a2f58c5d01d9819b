package offline

import (
	"encoding/json"
	"strings"

	"github.com/basket/scenecrew/internal/agent"
)

// PlanTask mirrors the planner's JSON task shape.
type PlanTask struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	AssignedTo  string   `json:"assigned_to"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
}

type planDoc struct {
	Tasks []PlanTask `json:"tasks"`
}

func mentions(lower string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// TemplatePlan builds a dependency-ordered plan from the brief's keywords.
// Every plan has ground, sky, lighting and review tasks, so it always has
// at least one dependency edge.
func TemplatePlan(brief string) []PlanTask {
	lower := strings.ToLower(brief)
	brief = strings.TrimSpace(brief)

	tasks := []PlanTask{
		{
			ID:          "ground",
			Title:       "Ground plane",
			AssignedTo:  agent.Thomas,
			Description: "Lay out the ground plane for: " + brief,
		},
		{
			ID:          "sky",
			Title:       "Sky & atmosphere",
			AssignedTo:  agent.Thomas,
			Description: "Add sky, sun and ambient light.",
			DependsOn:   []string{"ground"},
		},
	}
	lightingDep := "sky"

	switch {
	case mentions(lower, "castle", "tower", "fort"):
		tasks = append(tasks, PlanTask{
			ID:          "structures",
			Title:       "Towers",
			AssignedTo:  agent.Alex,
			Description: "Raise the main towers.",
			DependsOn:   []string{"ground"},
		})
		lightingDep = "structures"
	case mentions(lower, "house", "building", "village", "town", "city", "structure", "hut", "cabin"):
		tasks = append(tasks, PlanTask{
			ID:          "structures",
			Title:       "House structure",
			AssignedTo:  agent.Alex,
			Description: "Place the main buildings.",
			DependsOn:   []string{"ground"},
		})
		lightingDep = "structures"
	}

	if mentions(lower, "tree", "forest", "vegetation", "nature", "garden", "park", "castle") {
		tasks = append(tasks, PlanTask{
			ID:          "vegetation",
			Title:       "Trees & vegetation",
			AssignedTo:  agent.Thomas,
			Description: "Scatter trees around the scene.",
			DependsOn:   []string{"ground"},
		})
	}

	if mentions(lower, "music", "sound", "audio", "ambien", "soundtrack") {
		tasks = append(tasks, PlanTask{
			ID:          "music",
			Title:       "Ambient soundtrack",
			AssignedTo:  agent.Sana,
			Description: "Describe the ambient soundtrack for the scene.",
			DependsOn:   []string{"ground"},
		})
	}

	tasks = append(tasks, PlanTask{
		ID:          "lighting",
		Title:       "Lighting",
		AssignedTo:  agent.Thomas,
		Description: "Add warm point lights.",
		DependsOn:   []string{lightingDep},
	})

	all := make([]string, 0, len(tasks))
	for _, t := range tasks {
		all = append(all, t.ID)
	}
	tasks = append(tasks, PlanTask{
		ID:          "review",
		Title:       "Final review & polish",
		AssignedTo:  agent.Morgan,
		Description: "Review the scene and add post-processing.",
		DependsOn:   all,
	})
	return tasks
}

// TemplatePlanJSON renders TemplatePlan in the planner reply format.
func TemplatePlanJSON(brief string) string {
	data, _ := json.MarshalIndent(planDoc{Tasks: TemplatePlan(brief)}, "", "  ")
	return string(data)
}
