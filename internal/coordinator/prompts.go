package coordinator

import (
	"fmt"
	"strings"

	"github.com/basket/scenecrew/internal/agent"
)

func expandPrompt(brief string) string {
	return fmt.Sprintf(`The Boss wants to build a scene.
%s%s

Write a detailed step-by-step build plan in plain language. For each step say what to build,
which specialist should do it (Thomas for code, Alex for systems, Elena for narrative,
Morgan for review) and what the outcome should be.

Rules:
- Start with terrain, then sky and lighting, then major structures, then details and props,
  then effects and atmosphere, then review and polish.
- Use only basic shapes and built-in engine features.
- Every step must be achievable with working engine Python.
- Keep it concise. Do not output TASK| lines.`, agent.BriefPrefix, brief)
}

func planPrompt(brief string) string {
	names := strings.Join(agent.Names(), ", ")
	return fmt.Sprintf(`Break this project into 2-6 build tasks for the team.
%s%s

Reply with a JSON object in a `+"```json"+` block:
{"tasks":[{"id":"short-id","title":"...","assigned_to":"<agent>","description":"...","depends_on":["<id>"]}]}

Agents: %s.
Order tasks terrain first, then sky and lighting, structures, details, effects, review.
Only list dependencies that must finish first.`, agent.BriefPrefix, brief, names)
}

func codePrompt(t Task, brief string) string {
	if id, ok := agent.Lookup(t.AssignedTo); ok && id.TextOnly {
		return fmt.Sprintf(`You are working on a build task. Describe your contribution in a short paragraph. Do not write code.

%s%s

Description:
%s

Project brief:
%s`, agent.TaskPrefix, t.Title, t.Description, brief)
	}
	return fmt.Sprintf(`You are working on a build task. Write engine Python to complete it.
Output only the code in a `+"```python"+` block. No explanation outside the block.

%s%s

Description:
%s

Project brief:
%s`, agent.TaskPrefix, t.Title, t.Description, brief)
}

func reviewPrompt(done, total, completed, failed int) string {
	return fmt.Sprintf(`You are reviewing progress during a build run. Briefly confirm everything looks good so far, or note any concerns in 1-2 sentences.

Context: tasks 1-%d of %d finished. %d succeeded, %d failed.`, done, total, completed, failed)
}
