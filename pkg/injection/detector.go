package injection

import (
	"strings"
)

// RiskLevel classifies a fused injection score.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Score thresholds for risk classification.
const (
	criticalThreshold = 0.8
	highThreshold     = 0.6
	mediumThreshold   = 0.3
	lowThreshold      = 0.1
)

// Heuristic weights outside the per-category table.
const (
	keywordWeight     = 0.05
	repetitionCutoff  = 0.3
	repetitionWeight  = 0.2
	minRepetitionWord = 3
)

// Tags for non-category detections.
const (
	tagSuspiciousKeywords = "suspicious_keywords"
	tagUnusualRepetition  = "unusual_repetition"
)

// Verdict is the result of injection analysis. DetectedPatterns has set
// semantics: de-duplicated, no ordering guarantee beyond reproducibility.
type Verdict struct {
	IsSafe           bool
	RiskScore        float64
	RiskLevel        RiskLevel
	DetectedPatterns []string
	SanitizedText    string
}

// Detect sanitizes text and scores it for prompt-injection risk. Matching
// always runs on the sanitized form so delimiter padding and literal escape
// sequences cannot hide a pattern.
func Detect(text string) Verdict {
	sanitized := Sanitize(text)
	catalog := Get()

	score := 0.0
	var detected []string

	// Category pass: first match within a category records it once.
	for _, cat := range scanOrder {
		if p := catalog.MatchCategory(sanitized, cat); p != nil {
			detected = append(detected, string(cat))
			score += categoryWeights[cat]
		}
	}

	// Keyword pass: +0.05 per distinct matched keyword.
	lower := strings.ToLower(sanitized)
	keywordHits := 0
	for _, kw := range catalog.Keywords() {
		if strings.Contains(lower, kw) {
			keywordHits++
		}
	}
	if keywordHits > 0 {
		detected = append(detected, tagSuspiciousKeywords)
		score += float64(keywordHits) * keywordWeight
	}

	// Repetition pass: a single word dominating the input is a flooding or
	// token-stuffing signal, not natural language.
	if rep := repetitionScore(sanitized); rep > repetitionCutoff {
		detected = append(detected, tagUnusualRepetition)
		score += rep * repetitionWeight
	}

	if score > 1.0 {
		score = 1.0
	}

	level := classifyRisk(score)
	return Verdict{
		IsSafe:           level == RiskNone || level == RiskLow,
		RiskScore:        score,
		RiskLevel:        level,
		DetectedPatterns: detected,
		SanitizedText:    sanitized,
	}
}

// repetitionScore returns the highest single-word share of the input,
// considering only words of length >= 3. Zero for empty input.
func repetitionScore(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	counts := make(map[string]int, len(words))
	max := 0
	for _, w := range words {
		if len(w) < minRepetitionWord {
			continue
		}
		counts[w]++
		if counts[w] > max {
			max = counts[w]
		}
	}
	return float64(max) / float64(len(words))
}

func classifyRisk(score float64) RiskLevel {
	switch {
	case score >= criticalThreshold:
		return RiskCritical
	case score >= highThreshold:
		return RiskHigh
	case score >= mediumThreshold:
		return RiskMedium
	case score >= lowThreshold:
		return RiskLow
	default:
		return RiskNone
	}
}
