// Package audit records security incidents raised by the admission layer.
// Sinks are best-effort collaborators: a failing or slow sink must never
// block or fail an admission decision, so writes go through a bounded
// asynchronous dispatcher that drops (and counts) under pressure.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Incident is one recorded security event.
type Incident struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Details   string    `json:"details"`
}

// NewIncident stamps an incident with a fresh ID and the current time.
func NewIncident(userID, kind, details string) Incident {
	return Incident{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Kind:      kind,
		Details:   details,
	}
}

// Sink persists incidents. Implementations must be safe for concurrent use.
type Sink interface {
	RecordSecurityIncident(ctx context.Context, inc Incident) error
}

// Nop discards incidents. Used when auditing is disabled.
type Nop struct{}

func (Nop) RecordSecurityIncident(ctx context.Context, inc Incident) error {
	return nil
}
