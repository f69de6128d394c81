// Package policy scrubs sensitive content before it reaches durable storage.
// Redaction applies to persisted turn content only; the provider still sees
// the raw prompt.
package policy

import "regexp"

// Ordered so card numbers are masked before the looser phone pattern can
// claim their digit runs.
var redactions = []struct {
	pattern *regexp.Regexp
	mask    string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks email addresses, card numbers and phone numbers in turn
// content, reporting whether anything was masked.
func RedactPII(content string) (redacted string, changed bool) {
	out := content
	for _, r := range redactions {
		next := r.pattern.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
