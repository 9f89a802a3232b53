// Package redact masks secrets in text and structured payloads before they
// leave the process over the diagnostics channel.
package redact

import (
	"regexp"
	"strings"
)

// rule pairs a compiled pattern with its replacement. Rules run in order and
// each one scans the full string, so later rules still see text rewritten by
// earlier ones.
type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

var rules = []rule{
	// Long hex/base64-ish API key shapes assigned to key-like names.
	{regexp.MustCompile(`(?i)\b(api[_-]?key|apikey)\s*[=:]\s*["']?[A-Za-z0-9_\-]{16,}["']?`), "$1=[REDACTED]"},
	// Bearer tokens in headers or prose.
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer [REDACTED]"},
	// JWT-shaped tokens (three dot-separated base64url segments).
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`), "[REDACTED-JWT]"},
	// Connection strings with inline credentials.
	{regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb(\+srv)?|redis|amqp)://[^\s@]+@`), "$1://[REDACTED]@"},
	// Password fields in query strings, JSON fragments, or prose.
	{regexp.MustCompile(`(?i)("?password"?\s*[=:]\s*)["']?[^\s"',}&]+["']?`), "$1[REDACTED]"},
	// Emails: keep the first character and the domain.
	{regexp.MustCompile(`\b([A-Za-z0-9])[A-Za-z0-9._%+-]*@([A-Za-z0-9.-]+\.[A-Za-z]{2,})\b`), "$1***@$2"},
	// Card numbers (13-19 digits, optional separators).
	{regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), "[REDACTED-CARD]"},
	// US SSNs.
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED-SSN]"},
	// Vendor key prefixes: OpenAI, AWS, GitHub, Slack.
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}\b`), "[REDACTED-KEY]"},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "[REDACTED-KEY]"},
	{regexp.MustCompile(`\bghp_[A-Za-z0-9]{20,}\b`), "[REDACTED-KEY]"},
	{regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`), "[REDACTED-KEY]"},
	// Catch-all assignment of anything secret-like.
	{regexp.MustCompile(`(?i)\b(secret|token|key|password|credential)(s?\s*[=:]\s*)["']?[A-Za-z0-9\-._~+/]{8,}=*["']?`), "$1$2[REDACTED]"},
}

// sensitiveKeyFragments flags object keys whose values are replaced wholesale
// regardless of their type.
var sensitiveKeyFragments = []string{"password", "secret", "token", "key", "authorization"}

const maskedValue = "[REDACTED]"

// Text applies every redaction rule to s in order and returns the result.
func Text(s string) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Object returns a deep copy of v with sensitive keys masked and every string
// leaf passed through Text. Maps and slices are recursed; other values pass
// through unchanged.
func Object(v any) any {
	switch val := v.(type) {
	case string:
		return Text(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if sensitiveKey(k) {
				out[k] = maskedValue
				continue
			}
			out[k] = Object(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Object(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = Text(item)
		}
		return out
	default:
		return v
	}
}

func sensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
