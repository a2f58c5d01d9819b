package shared

import "fmt"

// ValidationError reports a missing or malformed required input.
// Operations returning it have no side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Truncate returns at most n bytes of s, trimmed back to a rune boundary.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
