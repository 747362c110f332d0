package injection

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/vantage-sec/gatehouse/pkg/unicodescan"
)

// DefaultMaxLength is the structural size ceiling used when the caller does
// not supply one.
const DefaultMaxLength = 50_000

// Structural rejection thresholds.
const (
	maxReplacementChars = 5
	maxInvisibleChars   = 10
)

// invisibleChars covers zero-width characters, bidi controls, word joiners,
// and related formatting codepoints that have no visual footprint. A few are
// legitimate in some scripts; more than maxInvisibleChars of them in one
// input is smuggling, not typography.
var invisibleChars = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x034F, Hi: 0x034F, Stride: 1}, // combining grapheme joiner
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space..RTL mark
		{Lo: 0x202A, Hi: 0x202E, Stride: 1}, // bidi embedding controls
		{Lo: 0x2060, Hi: 0x2064, Stride: 1}, // word joiner..invisible plus
		{Lo: 0x2066, Hi: 0x2069, Stride: 1}, // bidi isolate controls
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // zero-width no-break space
	},
	R32: []unicode.Range32{
		{Lo: 0xE0000, Hi: 0xE007F, Stride: 1}, // Unicode tags block
	},
}

// ValidationResult reports whether input passed structural checks. Reason is
// empty when Valid.
type ValidationResult struct {
	Valid  bool
	Reason string
}

func rejected(reason string) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}

// ValidateStructure runs the structural gate ahead of any semantic analysis:
// size, encoding sanity, invisible-character smuggling, and finally the
// homoglyph analyzer at a strict confidence bar (this path blocks outright,
// so it demands more certainty than the analyzer's own default).
// maxLen <= 0 selects DefaultMaxLength.
func ValidateStructure(text string, maxLen int) ValidationResult {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	if text == "" {
		return rejected("input is empty")
	}
	if n := len([]rune(text)); n > maxLen {
		return rejected(fmt.Sprintf("input exceeds maximum length (%d > %d characters)", n, maxLen))
	}
	if strings.ContainsRune(text, 0) {
		return rejected("input contains null bytes")
	}

	replacements := 0
	invisibles := 0
	for _, r := range text {
		if (r < 0x20 && r != '\t' && r != '\n' && r != '\r') || r == 0x7F {
			return rejected("input contains control characters")
		}
		if r == '�' {
			replacements++
		}
		if unicode.Is(invisibleChars, r) {
			invisibles++
		}
	}
	if replacements > maxReplacementChars {
		return rejected("input contains too many replacement characters")
	}
	if invisibles > maxInvisibleChars {
		return rejected("input contains too many invisible characters")
	}

	if v := unicodescan.Analyze(text); !v.IsSafe && v.Confidence >= 0.5 {
		return rejected(fmt.Sprintf("input contains suspicious character substitution (confidence %.2f)", v.Confidence))
	}

	return ValidationResult{Valid: true}
}
