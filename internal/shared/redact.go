package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches provider keys and auth material that can leak into
// agent replies, engine error logs and audit subjects.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// Google AI keys.
	regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
	// Anthropic / OpenAI / OpenRouter style keys.
	regexp.MustCompile(`sk-(?:ant-|or-)?[A-Za-z0-9_\-]{20,}`),
}

// Redact replaces secret-bearing substrings with [REDACTED]. A key-like
// prefix, when captured, is preserved.
func Redact(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, pat := range secretPatterns {
		out = pat.ReplaceAllStringFunc(out, func(match string) string {
			sub := pat.FindStringSubmatch(match)
			if len(sub) >= 3 {
				return sub[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return out
}

// RedactEnvValue hides the value when the key name looks secret.
func RedactEnvValue(key, value string) string {
	lower := strings.ToLower(key)
	for _, s := range []string{"api_key", "apikey", "secret", "token", "password", "credential"} {
		if strings.Contains(lower, s) {
			return redactedPlaceholder
		}
	}
	return value
}
