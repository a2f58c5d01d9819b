package safety

import (
	"fmt"
	"strings"
)

// RequiredMarker must appear in every script sent to the engine.
const RequiredMarker = "import unreal"

// Category groups denylist rules for logging and metrics.
type Category string

const (
	CategoryProcess  Category = "process_spawn"
	CategoryEval     Category = "dynamic_eval"
	CategoryImport   Category = "dynamic_import"
	CategoryRecDel   Category = "recursive_delete"
	CategoryFileMove Category = "file_move"
	CategoryRemove   Category = "file_removal"
)

// RuleMissingMarker names the verdict for scripts without RequiredMarker.
const RuleMissingMarker = "missing_marker"

// Rule is one denylist entry. Pattern is matched as a plain,
// case-sensitive substring.
type Rule struct {
	Name     string
	Pattern  string
	Category Category
}

// Rules is evaluated in order; the first match rejects.
var Rules = []Rule{
	{Name: "os_system", Pattern: "os.system", Category: CategoryProcess},
	{Name: "subprocess", Pattern: "subprocess", Category: CategoryProcess},
	{Name: "eval", Pattern: "eval(", Category: CategoryEval},
	{Name: "exec", Pattern: "exec(", Category: CategoryEval},
	{Name: "dunder_import", Pattern: "__import__", Category: CategoryImport},
	{Name: "shutil_rmtree", Pattern: "shutil.rmtree", Category: CategoryRecDel},
	{Name: "shutil_move", Pattern: "shutil.move", Category: CategoryFileMove},
	{Name: "os_remove", Pattern: "os.remove", Category: CategoryRemove},
	{Name: "os_rmdir", Pattern: "os.rmdir", Category: CategoryRemove},
}

// Verdict is the outcome of scanning one script.
type Verdict struct {
	OK       bool     `json:"ok"`
	Rule     string   `json:"rule,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Category Category `json:"category,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// RejectionError is returned for scripts the filter refuses.
type RejectionError struct {
	Rule    string
	Pattern string
	Reason  string
}

func (e *RejectionError) Error() string { return e.Reason }

// Err returns nil for an accepted script.
func (v Verdict) Err() error {
	if v.OK {
		return nil
	}
	return &RejectionError{Rule: v.Rule, Pattern: v.Pattern, Reason: v.Reason}
}

// Filter screens engine scripts before they reach the queue.
type Filter struct {
	rules []Rule
}

// NewFilter returns a filter over the default rule table.
func NewFilter() *Filter {
	return &Filter{rules: Rules}
}

// Scan checks code against the marker and then the denylist.
func (f *Filter) Scan(code string) Verdict {
	if !strings.Contains(code, RequiredMarker) {
		return Verdict{
			Rule:   RuleMissingMarker,
			Reason: fmt.Sprintf("not valid engine code: must include %q", RequiredMarker),
		}
	}
	for _, r := range f.rules {
		if strings.Contains(code, r.Pattern) {
			return Verdict{
				Rule:     r.Name,
				Pattern:  r.Pattern,
				Category: r.Category,
				Reason:   "Dangerous operation detected: " + r.Pattern,
			}
		}
	}
	return Verdict{OK: true}
}
