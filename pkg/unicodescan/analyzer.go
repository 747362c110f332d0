package unicodescan

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Verdict is the result of homoglyph analysis. It is derived fresh per call,
// never mutated after construction, and a pure function of the input text
// plus the static tables in this package.
type Verdict struct {
	IsSafe             bool
	DetectedHomoglyphs []string
	MixedScripts       map[Script]bool
	Confidence         float64
	NormalizedText     string
}

// Thresholds and weights for the signal fusion below. Pure per-character
// matching over-triggers on legitimate multilingual text; the fusion isolates
// the attack signature (sparse substitution inside a dominant Latin string)
// from "this document is written in another language".
const (
	densityCap        = 0.5
	latinMixWeight    = 0.4
	multiScriptWeight = 0.1
	highRiskUnit      = 0.05
	highRiskCap       = 0.3
	sparseCyrillic    = 0.3
	sparseGreek       = 0.2
	unsafeConfidence  = 0.5
)

// Analyze scores text for homoglyph spoofing risk and produces a
// Latin-normalized form. Empty input short-circuits to a safe verdict.
func Analyze(text string) Verdict {
	normalized := norm.NFKC.String(text)
	if normalized == "" {
		return Verdict{IsSafe: true, MixedScripts: map[Script]bool{}, NormalizedText: ""}
	}

	var (
		detected          []string
		mixed             = make(map[Script]bool)
		hasLatin          bool
		latinCount        int
		cyrillicCount     int
		greekCount        int
		homoglyphCount    int
		highRiskCount     int
		totalAlphanumeric int
	)

	for _, r := range normalized {
		script := ClassifyRune(r)
		switch script {
		case ScriptLatin:
			hasLatin = true
			latinCount++
		case ScriptASCII, ScriptOther:
			// Not a script signal either way.
		default:
			mixed[script] = true
			if script == ScriptCyrillic {
				cyrillicCount++
			}
			if script == ScriptGreek {
				greekCount++
			}
		}

		isASCIIAlnum := (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
		if l, ok := LatinEquivalent(r); ok {
			homoglyphCount++
			detected = append(detected, fmt.Sprintf("'%c' (U+%04X) looks like '%c'", r, r, l))
			if highRiskCyrillic[r] {
				highRiskCount++
			}
			totalAlphanumeric++
		} else if isASCIIAlnum {
			totalAlphanumeric++
		}
	}

	confidence := 0.0

	// Signal 1: homoglyph density relative to the alphanumeric population.
	if totalAlphanumeric > 0 {
		density := float64(homoglyphCount) / float64(totalAlphanumeric) * 2
		if density > densityCap {
			density = densityCap
		}
		confidence += density
	}

	// Signal 2: script mixing. Latin next to Cyrillic or Greek is the
	// classic spoofing signature; many unrelated scripts is merely unusual.
	latinCyrGreekMix := hasLatin && (mixed[ScriptCyrillic] || mixed[ScriptGreek])
	if latinCyrGreekMix {
		confidence += latinMixWeight
	} else if len(mixed) > 2 {
		confidence += multiScriptWeight
	}

	// Signal 3: the most-abused Cyrillic confusables, only meaningful when
	// Latin is also present.
	if hasLatin && highRiskCount > 0 {
		bonus := float64(highRiskCount) * highRiskUnit
		if bonus > highRiskCap {
			bonus = highRiskCap
		}
		confidence += bonus
	}

	// Signal 4: sparse mixing. A few Cyrillic/Greek characters inside an
	// otherwise-Latin string is an attack shape; bilingual text has many.
	if hasLatin && latinCount > 10 {
		if cyrillicCount >= 1 && cyrillicCount <= 5 {
			confidence += sparseCyrillic
		}
		if greekCount >= 1 && greekCount <= 5 {
			confidence += sparseGreek
		}
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	// Purely non-Latin single-script text (all-Cyrillic, all-Greek, all-CJK)
	// is always safe: legitimate non-English text must never be penalized.
	pureNonLatin := !hasLatin && len(mixed) == 1
	safe := pureNonLatin ||
		(confidence < unsafeConfidence && !(homoglyphCount > 0 && latinCyrGreekMix))

	return Verdict{
		IsSafe:             safe,
		DetectedHomoglyphs: detected,
		MixedScripts:       mixed,
		Confidence:         confidence,
		NormalizedText:     NormalizeHomoglyphs(normalized),
	}
}
