package unicodescan

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// confusableEntry declares every known look-alike codepoint for one canonical
// Latin character. The reverse map built from these entries must be a
// function: a confusable codepoint may appear under exactly one Latin char.
type confusableEntry struct {
	latin       rune
	confusables []rune
}

// confusableEntries covers the Cyrillic, Greek, Armenian, and symbol/fullwidth
// lookalikes commonly used in homoglyph attacks. NFKC does not fold
// cross-script confusables (Cyrillic а stays а), so this table is required
// even after normalization. Not exhaustive: focused on characters that appear
// in English-language injection phrases and spoofed identifiers.
var confusableEntries = []confusableEntry{
	{'a', []rune{'а', 'α', 'ա', 'ᴀ'}},           // а α ա ᴀ
	{'b', []rune{'в', 'β', 'ʙ'}},                     // в β ʙ
	{'c', []rune{'с', 'ϲ', 'ᴄ'}},                     // с ϲ ᴄ
	{'d', []rune{'ԁ', 'Ꮷ'}},                               // ԁ Ꮷ
	{'e', []rune{'е', 'ε', 'ҽ', 'ᴇ'}},           // е ε ҽ ᴇ
	{'g', []rune{'ɡ', 'ց'}},                               // ɡ ց
	{'h', []rune{'һ', 'հ', 'ʜ'}},                     // һ հ ʜ
	{'i', []rune{'і', 'ι', 'ɪ'}},                     // і ι ɪ
	{'j', []rune{'ј', 'ϳ'}},                               // ј ϳ
	{'k', []rune{'к', 'κ'}},                               // к κ
	{'l', []rune{'ӏ', 'ⅼ'}},                               // ӏ ⅼ
	{'m', []rune{'м', 'ⅿ'}},                               // м ⅿ
	{'n', []rune{'п', 'ո'}},                               // п ո
	{'o', []rune{'о', 'ο', 'օ', 'ᴏ'}},           // о ο օ ᴏ
	{'p', []rune{'р', 'ρ', 'ᴘ'}},                     // р ρ ᴘ
	{'q', []rune{'ԛ'}},                                         // ԛ
	{'s', []rune{'ѕ', 'ꜱ'}},                               // ѕ ꜱ
	{'t', []rune{'т', 'τ', 'ᴛ'}},                     // т τ ᴛ
	{'u', []rune{'ц', 'ս', 'ᴜ'}},                     // ц ս ᴜ
	{'v', []rune{'ν', 'ᴠ'}},                               // ν ᴠ
	{'w', []rune{'ѡ', 'ԝ', 'ᴡ'}},                     // ѡ ԝ ᴡ
	{'x', []rune{'х', 'χ'}},                               // х χ
	{'y', []rune{'у', 'ү', 'ʏ'}},                     // у ү ʏ
	{'z', []rune{'ᴢ'}},                                         // ᴢ
	{'A', []rune{'А', 'Α', 'Ꭺ'}},                     // А Α Ꭺ
	{'B', []rune{'В', 'Β', 'Ᏼ'}},                     // В Β Ᏼ
	{'C', []rune{'С', 'Ϲ', 'Ꮯ'}},                     // С Ϲ Ꮯ
	{'E', []rune{'Е', 'Ε', 'Ꭼ'}},                     // Е Ε Ꭼ
	{'H', []rune{'Н', 'Η', 'Ꮋ'}},                     // Н Η Ꮋ
	{'I', []rune{'І', 'Ι', 'Ӏ'}},                     // І Ι Ӏ
	{'J', []rune{'Ј', 'Ꭻ'}},                               // Ј Ꭻ
	{'K', []rune{'К', 'Κ', 'Ꮶ'}},                     // К Κ Ꮶ
	{'M', []rune{'М', 'Μ', 'Ꮇ'}},                     // М Μ Ꮇ
	{'N', []rune{'Ν', 'ℕ'}},                               // Ν ℕ
	{'O', []rune{'О', 'Ο', 'Օ'}},                     // О Ο Օ
	{'P', []rune{'Р', 'Ρ', 'Ꮲ'}},                     // Р Ρ Ꮲ
	{'S', []rune{'Ѕ', 'Տ', 'Ꮪ'}},                     // Ѕ Տ Ꮪ
	{'T', []rune{'Т', 'Τ', 'Ꭲ'}},                     // Т Τ Ꭲ
	{'X', []rune{'Х', 'Χ'}},                               // Х Χ
	{'Y', []rune{'Ү', 'Υ'}},                               // Ү Υ
	{'Z', []rune{'Ζ', 'ℤ'}},                               // Ζ ℤ
	{'0', []rune{'０', '⓪'}},                               // ０ ⓪
	{'1', []rune{'１', '①'}},                               // １ ①
	{'2', []rune{'２', '②'}},                               // ２ ②
	{'3', []rune{'３', '③', 'З'}},                     // ３ ③ З
	{'4', []rune{'４', '④'}},                               // ４ ④
	{'5', []rune{'５', '⑤'}},                               // ５ ⑤
	{'6', []rune{'６', '⑥', 'б'}},                     // ６ ⑥ б
	{'7', []rune{'７', '⑦'}},                               // ７ ⑦
	{'8', []rune{'８', '⑧'}},                               // ８ ⑧
	{'9', []rune{'９', '⑨'}},                               // ９ ⑨
}

// toLatin is the reverse lookup: confusable codepoint -> canonical Latin char.
// Built once at init; read-only afterwards.
var toLatin = buildReverseMap()

func buildReverseMap() map[rune]rune {
	m := make(map[rune]rune, 160)
	for _, e := range confusableEntries {
		for _, c := range e.confusables {
			if prev, dup := m[c]; dup && prev != e.latin {
				// Table invariant: one canonical target per confusable.
				panic("unicodescan: confusable " + string(c) + " declared for two Latin chars")
			}
			m[c] = e.latin
		}
	}
	return m
}

// highRiskCyrillic is the curated subset of Cyrillic confusables most often
// seen in real spoofing campaigns (they are indistinguishable from Latin in
// virtually every font). Presence of these alongside Latin text earns an
// extra confidence bonus in the analyzer.
var highRiskCyrillic = map[rune]bool{
	'а': true, // а
	'е': true, // е
	'о': true, // о
	'р': true, // р
	'с': true, // с
	'у': true, // у
	'х': true, // х
	'і': true, // і
	'ӏ': true, // ӏ
}

// IsConfusable reports whether r is a known look-alike for a Latin character.
func IsConfusable(r rune) bool {
	_, ok := toLatin[r]
	return ok
}

// LatinEquivalent returns the canonical Latin character r spoofs, if any.
func LatinEquivalent(r rune) (rune, bool) {
	l, ok := toLatin[r]
	return l, ok
}

// NormalizeHomoglyphs maps every known confusable codepoint in s to its Latin
// equivalent. Applied after NFKC in the analyzer; usable standalone for
// matching spoofed identifiers ("pаypаl" -> "paypal").
func NormalizeHomoglyphs(s string) string {
	return strings.Map(func(r rune) rune {
		if l, ok := toLatin[r]; ok {
			return l
		}
		return r
	}, s)
}

// AreVisuallyConfusable reports whether a and b are distinct strings that
// render identically after NFKC + confusable folding. Identical inputs are
// not "confusable" with themselves and return false.
func AreVisuallyConfusable(a, b string) bool {
	if a == b {
		return false
	}
	na := NormalizeHomoglyphs(norm.NFKC.String(a))
	nb := NormalizeHomoglyphs(norm.NFKC.String(b))
	return na == nb
}
