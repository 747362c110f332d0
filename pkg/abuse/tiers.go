// Package abuse implements the per-user usage accounting and admission
// control that gates LLM API calls: cost tiers, the usage ledger, the
// admission controller's increment-check-rollback protocol, and the advisory
// abuse-pattern monitor.
package abuse

import (
	"math"
	"strings"
)

// TierName identifies a cost tier.
type TierName string

const (
	TierHigh   TierName = "high"
	TierMedium TierName = "medium"
	TierLow    TierName = "low"
)

// Tier is one cost class: which models it claims (substring match), its
// request budgets, and its approximate price. Immutable once loaded.
type Tier struct {
	Name          TierName `yaml:"-"`
	Models        []string `yaml:"models"`
	MaxPerMinute  int      `yaml:"max_per_minute"`
	MaxPerHour    int      `yaml:"max_per_hour"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	BaseRatePer1K float64  `yaml:"base_rate_per_1k"`
}

// EstimateCost approximates the dollar cost of a request from its input
// token count. An approximation for budgeting, not a billing figure.
func (t Tier) EstimateCost(inputTokens int) float64 {
	return t.BaseRatePer1K * float64(inputTokens) / 1000
}

// Policy is the full tier table. Lookup order is low, then high, then
// medium: budget models carry the most specific names ("gpt-4o-mini" must
// win over the "gpt-4o" substring in the high tier).
type Policy struct {
	Low    Tier `yaml:"low"`
	High   Tier `yaml:"high"`
	Medium Tier `yaml:"medium"`
}

// DefaultPolicy returns the built-in tier table.
func DefaultPolicy() *Policy {
	return &Policy{
		High: Tier{
			Name:          TierHigh,
			Models:        []string{"gpt-4o", "gpt-4", "o1", "claude-opus", "claude-3-opus"},
			MaxPerMinute:  10,
			MaxPerHour:    100,
			MaxConcurrent: 3,
			BaseRatePer1K: 0.03,
		},
		Medium: Tier{
			Name:          TierMedium,
			Models:        []string{"claude-sonnet", "claude-3-sonnet", "gemini-pro", "mistral"},
			MaxPerMinute:  30,
			MaxPerHour:    300,
			MaxConcurrent: 5,
			BaseRatePer1K: 0.01,
		},
		Low: Tier{
			Name:          TierLow,
			Models:        []string{"gpt-4o-mini", "gpt-3.5", "claude-haiku", "claude-3-haiku", "gemini-flash"},
			MaxPerMinute:  60,
			MaxPerHour:    1000,
			MaxConcurrent: 10,
			BaseRatePer1K: 0.001,
		},
	}
}

// Normalize fills in tier names and backfills any zero-valued fields from the
// defaults. Lets a YAML policy file override only what it cares about.
func (p *Policy) Normalize() {
	def := DefaultPolicy()
	fillTier(&p.Low, def.Low, TierLow)
	fillTier(&p.High, def.High, TierHigh)
	fillTier(&p.Medium, def.Medium, TierMedium)
}

func fillTier(t *Tier, def Tier, name TierName) {
	t.Name = name
	if len(t.Models) == 0 {
		t.Models = def.Models
	}
	if t.MaxPerMinute <= 0 {
		t.MaxPerMinute = def.MaxPerMinute
	}
	if t.MaxPerHour <= 0 {
		t.MaxPerHour = def.MaxPerHour
	}
	if t.MaxConcurrent <= 0 {
		t.MaxConcurrent = def.MaxConcurrent
	}
	if t.BaseRatePer1K <= 0 {
		t.BaseRatePer1K = def.BaseRatePer1K
	}
}

// Lookup resolves a model string to its tier. A model matches a tier when it
// contains any of that tier's declared identifiers; unclaimed models default
// to medium.
func (p *Policy) Lookup(model string) Tier {
	for _, t := range []Tier{p.Low, p.High, p.Medium} {
		for _, m := range t.Models {
			if strings.Contains(model, m) {
				return t
			}
		}
	}
	return p.Medium
}

// EstimateTokens approximates the token count of an input from its character
// length (roughly 4 characters per token).
func EstimateTokens(inputLength int) int {
	return int(math.Ceil(float64(inputLength) / 4))
}
