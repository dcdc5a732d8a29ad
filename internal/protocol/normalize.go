package protocol

import (
	"strings"
	"unicode"
)

// Normalize canonicalises an answer before comparison: lowercase, trimmed,
// internal whitespace collapsed to single spaces, comma replaced with
// period when the text contains any digit, and ё folded to е. Normalize is
// idempotent.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	if strings.ContainsFunc(s, unicode.IsDigit) {
		s = strings.ReplaceAll(s, ",", ".")
	}

	s = strings.ReplaceAll(s, "ё", "е")

	return strings.Join(strings.Fields(s), " ")
}
