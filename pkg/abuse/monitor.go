package abuse

import (
	"fmt"
	"time"
)

// Advisory abuse-pattern thresholds. These flag, never block.
const (
	patternWindow       = 5 * time.Minute
	rapidFireThreshold  = 50
	modelSpamThreshold  = 30
	concurrentThreshold = 10
)

// Pattern tags produced by DetectPatterns.
const (
	PatternRapidFire           = "rapid_fire_requests"
	PatternExcessiveConcurrent = "excessive_concurrent_requests"
)

// Monitor inspects the ledger for abusive usage shapes. It is a monitoring
// signal for operators and audit, decoupled from the admission gate.
type Monitor struct {
	ledger *Ledger
}

// NewMonitor creates a monitor over the given ledger.
func NewMonitor(ledger *Ledger) *Monitor {
	return &Monitor{ledger: ledger}
}

// DetectPatterns reports whether the user's recent usage looks abusive and
// which patterns fired. Unknown users are not abusive.
func (m *Monitor) DetectPatterns(userID string) (bool, []string) {
	total, perModel, concurrent := m.ledger.windowCounts(userID, patternWindow)

	var patterns []string
	if total > rapidFireThreshold {
		patterns = append(patterns, PatternRapidFire)
	}
	for model, n := range perModel {
		if n > modelSpamThreshold {
			patterns = append(patterns, fmt.Sprintf("model_spam_%s", model))
		}
	}
	if concurrent > concurrentThreshold {
		patterns = append(patterns, PatternExcessiveConcurrent)
	}

	return len(patterns) > 0, patterns
}
