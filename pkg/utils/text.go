package utils

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MultipleSpaces matches any sequence of whitespace (including newlines).
var MultipleSpaces = regexp.MustCompile(`\s+`)

// CompressAllWhitespace replaces all whitespace sequences (including newlines) with a single space.
func CompressAllWhitespace(s string) string {
	return strings.TrimSpace(MultipleSpaces.ReplaceAllString(s, " "))
}

// NormalizeIdentifier lowercases and NFKC-normalizes a username or email so
// that visually identical identifiers compare equal. Diacritics are kept.
func NormalizeIdentifier(s string) string {
	return norm.NFKC.String(strings.ToLower(strings.TrimSpace(s)))
}

// Preview shortens text to at most limit runes on a single line, appending
// an ellipsis when it was cut.
func Preview(s string, limit int) string {
	s = CompressAllWhitespace(s)
	if limit <= 0 {
		return s
	}

	r := []rune(s)
	if len(r) <= limit {
		return s
	}

	return strings.TrimSpace(string(r[:limit])) + "…"
}
