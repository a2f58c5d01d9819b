package agent

import (
	"regexp"
	"strings"
)

var (
	pythonFenceRe  = regexp.MustCompile("(?s)```(?:python|py)[ \t]*\r?\n(.*?)```")
	genericFenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n(import unreal.*?)```")
	rawScriptRe    = regexp.MustCompile(`(?s)(import unreal\b.*)`)
)

// ExtractPythonCode pulls the first engine script out of an agent reply.
// It tries ```python and ```py fences, then any fence starting with
// "import unreal", then raw text from "import unreal" onwards. It returns
// "" when nothing looks like code.
func ExtractPythonCode(text string) string {
	if m := pythonFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := genericFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := rawScriptRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m[1]), "```"))
	}
	return ""
}

// HasPythonBlock reports whether text contains a ```python fence.
func HasPythonBlock(text string) bool {
	return strings.Contains(text, "```python")
}
