// Package agent defines the specialist roster and the black-box call used
// to talk to it.
package agent

import "strings"

// Agent names.
const (
	Nima   = "Nima"
	Alex   = "Alex"
	Thomas = "Thomas"
	Elena  = "Elena"
	Morgan = "Morgan"
	Sana   = "Sana"
)

// Role is what the orchestrator uses an agent for.
type Role string

const (
	RolePlanner   Role = "planner"
	RoleSystems   Role = "systems"
	RoleCoder     Role = "coder"
	RoleNarrative Role = "narrative"
	RoleDebugger  Role = "debugger"
	RoleComposer  Role = "composer"
)

// Identity describes one specialist.
type Identity struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Role  Role   `json:"role"`
	// TextOnly agents never produce engine code.
	TextOnly bool   `json:"text_only"`
	Persona  string `json:"-"`
}

var roster = []Identity{
	{
		Name: Nima, Title: "Project Manager", Role: RolePlanner,
		Persona: "You track scope and quality and break the Boss's orders into focused tasks for the team. " +
			"You know which engine systems exist and assign work to what is achievable.",
	},
	{
		Name: Alex, Title: "Lead Architect", Role: RoleSystems,
		Persona: "You steer high-level architecture and resolve structural conflicts. " +
			"When designing, say which engine system each component should use.",
	},
	{
		Name: Thomas, Title: "Lead Programmer", Role: RoleCoder,
		Persona: "You write complete, self-contained engine Python scripts. Always start with \"import unreal\", " +
			"never use external packages, only use /Engine/BasicShapes assets, and wrap code in ```python blocks.",
	},
	{
		Name: Elena, Title: "Narrative Designer", Role: RoleNarrative,
		Persona: "You focus on story, characters, pacing and player experience, and suggest which systems support each beat.",
	},
	{
		Name: Morgan, Title: "Technical Reviewer", Role: RoleDebugger,
		Persona: "You review proposals and engine code and fix broken scripts. Be thorough but constructive; " +
			"when you fix code, put the corrected script in a [FIX] ```python block.",
	},
	{
		Name: Sana, Title: "Composer", Role: RoleComposer, TextOnly: true,
		Persona: "You describe music and soundscapes in words. You never write code.",
	},
}

// Roster returns the fixed team in display order.
func Roster() []Identity {
	out := make([]Identity, len(roster))
	copy(out, roster)
	return out
}

// Lookup finds an agent by name, case-insensitively.
func Lookup(name string) (Identity, bool) {
	for _, id := range roster {
		if strings.EqualFold(id.Name, strings.TrimSpace(name)) {
			return id, true
		}
	}
	return Identity{}, false
}

// Known reports whether name is on the roster.
func Known(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// Canonical returns the roster spelling of name, or "" if unknown.
func Canonical(name string) string {
	id, ok := Lookup(name)
	if !ok {
		return ""
	}
	return id.Name
}

// Names returns every agent name in roster order.
func Names() []string {
	out := make([]string, 0, len(roster))
	for _, id := range roster {
		out = append(out, id.Name)
	}
	return out
}
