// Package classifier decides whether a brief is a single boundable unit of
// work (quick build) or needs a full multi-task plan.
package classifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
)

// Thresholds tunes the heuristics. Zero values fall back to defaults.
type Thresholds struct {
	MaxSimpleWords int
	MaxSimpleItems int
	ScopeWords     []string
}

// DefaultThresholds mirrors the config defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxSimpleWords: 14,
		MaxSimpleItems: 2,
		ScopeWords:     []string{"village", "city", "town", "level", "world", "game", "project", "environment"},
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MaxSimpleWords <= 0 {
		t.MaxSimpleWords = d.MaxSimpleWords
	}
	if t.MaxSimpleItems <= 0 {
		t.MaxSimpleItems = d.MaxSimpleItems
	}
	if len(t.ScopeWords) == 0 {
		t.ScopeWords = d.ScopeWords
	}
	return t
}

// Decision is the classifier's verdict. Reason names the first rule that
// marked the brief complex.
type Decision struct {
	Simple bool   `json:"simple"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Rule inspects a brief and reports why it is complex, or "" if it is not.
type Rule struct {
	Name  string
	Check func(prompt string, t Thresholds) string
}

// Rules is evaluated in order; the first rule that fires decides.
var Rules = []Rule{
	{Name: "length", Check: checkLength},
	{Name: "sequencing", Check: checkSequencing},
	{Name: "enumeration", Check: checkEnumeration},
	{Name: "scope", Check: checkScope},
}

// Classifier is safe for concurrent use; thresholds can be swapped on
// config reload.
type Classifier struct {
	thresholds atomic.Pointer[Thresholds]
}

func New(t Thresholds) *Classifier {
	c := &Classifier{}
	c.SetThresholds(t)
	return c
}

// SetThresholds replaces the active thresholds.
func (c *Classifier) SetThresholds(t Thresholds) {
	t = t.withDefaults()
	c.thresholds.Store(&t)
}

func (c *Classifier) Thresholds() Thresholds {
	return *c.thresholds.Load()
}

// IsSimple reports whether prompt should take the quick-build path.
func (c *Classifier) IsSimple(prompt string) bool {
	return c.Classify(prompt).Simple
}

func (c *Classifier) Classify(prompt string) Decision {
	t := c.Thresholds()
	prompt = strings.TrimSpace(prompt)
	for _, r := range Rules {
		if reason := r.Check(prompt, t); reason != "" {
			return Decision{Rule: r.Name, Reason: reason}
		}
	}
	return Decision{Simple: true}
}

func checkLength(prompt string, t Thresholds) string {
	if n := len(strings.Fields(prompt)); n > t.MaxSimpleWords {
		return fmt.Sprintf("%d words exceeds %d", n, t.MaxSimpleWords)
	}
	return ""
}

var sequencingRe = regexp.MustCompile(`(?i)\b(then|after that|next|first|finally|step|steps|followed by)\b`)

func checkSequencing(prompt string, _ Thresholds) string {
	if m := sequencingRe.FindString(prompt); m != "" {
		return fmt.Sprintf("sequencing language %q", strings.ToLower(m))
	}
	return ""
}

var (
	bulletRe      = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+\S`)
	itemSplitRe   = regexp.MustCompile(`(?i)\s*,\s*(?:and\s+)?|\s+and\s+`)
	countedNounRe = regexp.MustCompile(`(?i)\b(\d+|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|dozen|several|multiple|many)\s+[a-z]+`)
)

var numberWords = map[string]int{
	"two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"dozen": 12, "several": 3, "multiple": 2, "many": 3,
}

func checkEnumeration(prompt string, t Thresholds) string {
	if n := len(bulletRe.FindAllString(prompt, -1)); n >= 2 {
		return fmt.Sprintf("%d list bullets", n)
	}
	for _, m := range countedNounRe.FindAllStringSubmatch(prompt, -1) {
		if countOf(m[1]) >= 2 {
			return fmt.Sprintf("counted deliverable %q", m[0])
		}
	}
	items := 0
	for _, part := range itemSplitRe.Split(prompt, -1) {
		if strings.TrimSpace(part) != "" {
			items++
		}
	}
	if items >= t.MaxSimpleItems && items > 1 {
		return fmt.Sprintf("%d enumerated items", items)
	}
	return ""
}

func countOf(word string) int {
	if n, err := strconv.Atoi(word); err == nil {
		return n
	}
	return numberWords[strings.ToLower(word)]
}

func checkScope(prompt string, t Thresholds) string {
	lower := strings.ToLower(prompt)
	for _, w := range strings.Fields(lower) {
		w = strings.Trim(w, ".,;:!?\"'()")
		for _, scope := range t.ScopeWords {
			if w == scope || w == scope+"s" {
				return fmt.Sprintf("scope word %q", scope)
			}
		}
	}
	return ""
}
