package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Bus summaries and details are free text written by agents and humans, so
// credentials occasionally end up in them.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|password)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{8,})"?`),
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// GitHub and Slack style tokens.
	regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{20,}|xox[abpr]-[A-Za-z0-9-]{10,})\b`),
}

// Redact replaces secret-bearing substrings with [REDACTED], keeping any
// key-like prefix so the log line stays readable.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// SensitiveKey reports whether an attribute or detail key names a secret.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"token", "secret", "password", "authorization", "api_key", "apikey", "credential"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// RedactValue returns [REDACTED] for sensitive keys and the pattern-redacted
// value otherwise.
func RedactValue(key, value string) string {
	if SensitiveKey(key) {
		return redactedPlaceholder
	}
	return Redact(value)
}
