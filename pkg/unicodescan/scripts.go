// Package unicodescan provides Unicode-level analysis for security scanning:
// script classification, confusable-character lookup, and homoglyph risk
// scoring. All tables are built once at package init and are read-only
// afterwards, so every function here is safe for concurrent use.
package unicodescan

// Script names a Unicode script or block as used by the classifier.
// The set is deliberately small: only scripts that matter for homoglyph
// analysis get their own name, everything else collapses to ASCII/Other.
type Script string

const (
	ScriptLatin      Script = "latin"
	ScriptCyrillic   Script = "cyrillic"
	ScriptGreek      Script = "greek"
	ScriptArmenian   Script = "armenian"
	ScriptHebrew     Script = "hebrew"
	ScriptArabic     Script = "arabic"
	ScriptDevanagari Script = "devanagari"
	ScriptThai       Script = "thai"
	ScriptHangul     Script = "hangul"
	ScriptHiragana   Script = "hiragana"
	ScriptKatakana   Script = "katakana"
	ScriptCJK        Script = "cjk"
	ScriptASCII      Script = "ascii"
	ScriptOther      Script = "other"
)

// scriptRange maps a contiguous codepoint range to a script name.
type scriptRange struct {
	script Script
	lo, hi rune
}

// scriptRanges is checked in order; first match wins. Named scripts come
// before the generic ASCII fallback so that Latin letters classify as latin,
// not ascii. A script may own several discontiguous ranges.
var scriptRanges = []scriptRange{
	{ScriptLatin, 'A', 'Z'},
	{ScriptLatin, 'a', 'z'},
	{ScriptLatin, 0x00C0, 0x024F}, // Latin-1 Supplement letters + Extended-A/B
	{ScriptCyrillic, 0x0400, 0x04FF},
	{ScriptCyrillic, 0x0500, 0x052F}, // Cyrillic Supplement
	{ScriptGreek, 0x0370, 0x03FF},
	{ScriptGreek, 0x1F00, 0x1FFF}, // Greek Extended
	{ScriptArmenian, 0x0530, 0x058F},
	{ScriptHebrew, 0x0590, 0x05FF},
	{ScriptArabic, 0x0600, 0x06FF},
	{ScriptDevanagari, 0x0900, 0x097F},
	{ScriptThai, 0x0E00, 0x0E7F},
	{ScriptHiragana, 0x3040, 0x309F},
	{ScriptKatakana, 0x30A0, 0x30FF},
	{ScriptHangul, 0x1100, 0x11FF}, // Hangul Jamo
	{ScriptHangul, 0xAC00, 0xD7AF}, // Hangul Syllables
	{ScriptCJK, 0x4E00, 0x9FFF},
}

// ClassifyRune maps a single codepoint to its script. Codepoints in the
// printable ASCII range not claimed by a named script classify as ascii;
// anything else unmatched classifies as other.
func ClassifyRune(r rune) Script {
	for _, sr := range scriptRanges {
		if r >= sr.lo && r <= sr.hi {
			return sr.script
		}
	}
	if r >= 0x20 && r <= 0x7E {
		return ScriptASCII
	}
	return ScriptOther
}
