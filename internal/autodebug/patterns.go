package autodebug

import (
	"regexp"
	"strings"
)

// Pattern is one known engine failure. Fix is nil for patterns that only
// carry a suggestion.
type Pattern struct {
	Name       string
	Match      *regexp.Regexp
	Suggestion string
	Fix        func(code string) string
}

// Patterns is checked in order against the engine's error text.
var Patterns = []Pattern{
	{
		Name:       "asset_not_found",
		Match:      regexp.MustCompile(`(?i)object\s+not\s+found|asset\s+not\s+found|path\s+not\s+found`),
		Suggestion: "Asset or object path may be wrong; use /Engine/BasicShapes/ for basic meshes.",
		Fix:        fixMeshPaths,
	},
	{
		Name:       "none_type",
		Match:      regexp.MustCompile(`cannot\s+call\s+.*\s+on\s+None|'NoneType'\s+object|NoneType`),
		Suggestion: "An actor or object is None; add a None check before using it.",
		Fix:        guardSpawns,
	},
	{
		Name:       "attribute_error",
		Match:      regexp.MustCompile(`(?i)attribute\s+error|AttributeError|has no attribute|'NoneType'`),
		Suggestion: "Wrong method or property name, or the object is None; check the engine Python API.",
	},
	{
		Name:       "module_not_found",
		Match:      regexp.MustCompile(`(?i)no\s+module\s+named|ModuleNotFoundError`),
		Suggestion: "Only engine built-in modules are allowed; do not use pip packages.",
		Fix:        commentForeignImports,
	},
	{
		Name:       "timeout",
		Match:      regexp.MustCompile(`(?i)timeout|timed\s+out|execution\s+timeout`),
		Suggestion: "Execution took too long; simplify the script or run it in smaller steps.",
	},
	{
		Name:       "permission",
		Match:      regexp.MustCompile(`(?i)permission\s+denied|access\s+denied|read-only`),
		Suggestion: "Check that the editor is in the correct mode and ready.",
	},
	{
		Name:       "level_not_found",
		Match:      regexp.MustCompile(`(?i)level\s+not\s+found|world\s+not\s+found`),
		Suggestion: "Level or world path is wrong; verify it with EditorAssetLibrary.",
	},
	{
		Name:       "material_not_found",
		Match:      regexp.MustCompile(`(?i)material\s+not\s+found|texture\s+not\s+found`),
		Suggestion: "Don't load external materials; use default materials or BasicShapes.",
	},
	{
		Name:       "plugin_disabled",
		Match:      regexp.MustCompile(`(?i)plugin\s+not\s+enabled|plugin\s+disabled`),
		Suggestion: "A required plugin may not be active; use only plugins listed in context.",
	},
}

// QuickFix applies the first matching pattern whose rewrite changes the
// code. ok is false when nothing applied.
func QuickFix(code, errText string) (fixed string, pattern Pattern, ok bool) {
	for _, p := range Patterns {
		if p.Fix == nil || !p.Match.MatchString(errText) {
			continue
		}
		if out := p.Fix(code); out != code {
			return out, p, true
		}
	}
	return code, Pattern{}, false
}

// Suggest returns the suggestion of the first pattern matching errText.
func Suggest(errText string) string {
	for _, p := range Patterns {
		if p.Match.MatchString(errText) {
			return p.Suggestion
		}
	}
	return ""
}

var (
	meshCallRe   = regexp.MustCompile(`(?i)load_asset|load_object|StaticMesh\(['"][^'"]+['"]\)`)
	meshPathRe   = regexp.MustCompile(`(?i)StaticMesh\s*\(\s*['"]([^'"]+)['"]\s*\)`)
	spawnLineRe  = regexp.MustCompile(`spawn_actor|spawn_object`)
	assignRe     = regexp.MustCompile(`^(\s*)(\w+)\s*=`)
	bareImportRe = regexp.MustCompile(`(?m)^\s*import\s+\w+\s*$`)
	fromImportRe = regexp.MustCompile(`(?m)^\s*from\s+\w+\s+import\s+.*$`)
)

func fixMeshPaths(code string) string {
	if !meshCallRe.MatchString(code) {
		return code
	}
	return meshPathRe.ReplaceAllString(code, "StaticMesh('/Engine/BasicShapes/Cube.Cube')")
}

func guardSpawns(code string) string {
	if !strings.Contains(code, "spawn_actor") || strings.Contains(code, "if ") || strings.Contains(code, "None") {
		return code
	}
	lines := strings.Split(code, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, line)
		if !spawnLineRe.MatchString(line) || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		m := assignRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent, name := m[1], m[2]
		out = append(out,
			indent+"if "+name+" is None:",
			indent+`    unreal.log_error("Failed to spawn")`,
			indent+`    raise RuntimeError("Spawn returned None")`,
		)
	}
	return strings.Join(out, "\n")
}

func commentForeignImports(code string) string {
	comment := func(m string) string {
		if strings.Contains(m, "unreal") {
			return m
		}
		return "# " + m
	}
	code = bareImportRe.ReplaceAllStringFunc(code, comment)
	return fromImportRe.ReplaceAllStringFunc(code, comment)
}
