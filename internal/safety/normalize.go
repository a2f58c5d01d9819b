package safety

import (
	"regexp"
	"strings"
)

type rewrite struct {
	re    *regexp.Regexp
	repl  string
	label string
}

var rewrites = []rewrite{
	{
		re:    regexp.MustCompile(`unreal\.load_object\(\s*None\s*,\s*(['"][^'"]+['"])\s*\)`),
		repl:  `unreal.EditorAssetLibrary.load_asset($1)`,
		label: "load_object(None, path) -> EditorAssetLibrary.load_asset(path)",
	},
	{
		re:    regexp.MustCompile(`EditorLevelLibrary\(\)`),
		repl:  `EditorLevelLibrary`,
		label: "EditorLevelLibrary() -> EditorLevelLibrary",
	},
	{
		re:    regexp.MustCompile(`\.get_light_component\(\)`),
		repl:  `.get_component_by_class(unreal.LightComponent)`,
		label: "get_light_component() -> get_component_by_class(LightComponent)",
	},
	{
		re:    regexp.MustCompile(`\.get_static_mesh_component\(\)`),
		repl:  `.get_component_by_class(unreal.StaticMeshComponent)`,
		label: "get_static_mesh_component() -> get_component_by_class(StaticMeshComponent)",
	},
}

const completionLog = `unreal.log("scenecrew: script completed")`

// Normalize applies deterministic engine API rewrites and returns the
// fixed code with a label per applied fix. Scripts that never log get a
// completion log appended.
func Normalize(code string) (string, []string) {
	var applied []string
	for _, rw := range rewrites {
		if rw.re.MatchString(code) {
			code = rw.re.ReplaceAllString(code, rw.repl)
			applied = append(applied, rw.label)
		}
	}
	if strings.TrimSpace(code) != "" && !strings.Contains(code, "unreal.log") {
		code = strings.TrimRight(code, "\n") + "\n" + completionLog + "\n"
		applied = append(applied, "appended completion log")
	}
	return code, applied
}
