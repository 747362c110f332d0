package injection

import (
	"regexp"
	"strings"
)

// Package-level compiled regex patterns for performance
// These are compiled once at startup instead of on every call
var (
	// Runs of 4+ whitespace characters collapse to a single space
	reWhitespaceRun = regexp.MustCompile(`\s{4,}`)

	// Delimiter padding: homogeneous runs of -, =, * or # length >= 10.
	// One alternation per delimiter; RE2 has no backreferences.
	reDelimiterRun = regexp.MustCompile(`-{10,}|={10,}|\*{10,}|#{10,}`)

	// Raw escape sequences smuggled as literal text
	reHexEscape     = regexp.MustCompile(`\\x[0-9a-fA-F]{2}`)
	reUnicodeEscape = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)
)

// sanitizeStep rewrites one class of noise out of the input. Steps run in
// order; each receives the previous step's output.
type sanitizeStep struct {
	name string
	fn   func(string) string
}

// sanitizePipeline is the ordered sanitization pass applied before any
// pattern matching. Order matters: NUL stripping first so later regex steps
// see clean UTF-8, trim last so collapsed runs at the edges disappear.
var sanitizePipeline = []sanitizeStep{
	{"strip_nul", stripNUL},
	{"collapse_whitespace", collapseWhitespace},
	{"collapse_delimiters", collapseDelimiters},
	{"strip_escapes", stripEscapeSequences},
	{"trim", strings.TrimSpace},
}

// Sanitize normalizes untrusted input so that padding and escape tricks
// cannot hide a pattern from the matcher. Detection must always run on the
// sanitized form, never the raw one.
func Sanitize(text string) string {
	for _, step := range sanitizePipeline {
		text = step.fn(text)
	}
	return text
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func collapseWhitespace(s string) string {
	return reWhitespaceRun.ReplaceAllString(s, " ")
}

// collapseDelimiters shortens delimiter padding to a fixed 3-char marker,
// keeping the delimiter visible to the matcher without letting its length
// dilute repetition or density heuristics.
func collapseDelimiters(s string) string {
	return reDelimiterRun.ReplaceAllStringFunc(s, func(run string) string {
		return run[:3]
	})
}

func stripEscapeSequences(s string) string {
	s = reHexEscape.ReplaceAllString(s, "")
	return reUnicodeEscape.ReplaceAllString(s, "")
}
