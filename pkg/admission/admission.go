// Package admission is the facade the rest of the system calls: one Check
// that runs structural validation, injection detection, and abuse admission
// in order, recording security incidents and counters along the way.
package admission

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/vantage-sec/gatehouse/pkg/abuse"
	"github.com/vantage-sec/gatehouse/pkg/audit"
	"github.com/vantage-sec/gatehouse/pkg/injection"
	"github.com/vantage-sec/gatehouse/pkg/telemetry"
)

// Stage identifies which gate rejected a request.
type Stage string

const (
	StageValidation Stage = "validation"
	StageInjection  Stage = "injection"
	StageAdmission  Stage = "admission"
)

// Incident kinds recorded to the audit sink.
const (
	IncidentInvalidInput    = "invalid_input"
	IncidentPromptInjection = "prompt_injection"
	IncidentAbusePattern    = "abuse_pattern"
)

// Result is the composite verdict for one request.
type Result struct {
	Allowed    bool   `json:"allowed"`
	Stage      Stage  `json:"stage,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`

	// SanitizedInput is the text the caller should forward to the model.
	// It differs from the raw input when sanitization changed it; on a
	// medium injection risk the request proceeds only with this form.
	SanitizedInput string `json:"sanitized_input,omitempty"`

	RiskLevel        injection.RiskLevel `json:"risk_level,omitempty"`
	DetectedPatterns []string            `json:"detected_patterns,omitempty"`
	Tier             abuse.TierName      `json:"tier,omitempty"`
	Metrics          *abuse.Snapshot     `json:"metrics,omitempty"`
}

// Config wires a Service.
type Config struct {
	Controller *abuse.Controller
	Monitor    *abuse.Monitor
	Dispatcher *audit.Dispatcher
	Counters   *telemetry.Counters

	// MaxInputLength overrides the structural size ceiling; <= 0 keeps
	// the validator default.
	MaxInputLength int
}

// Service is the admission facade. Safe for concurrent use.
type Service struct {
	controller *abuse.Controller
	monitor    *abuse.Monitor
	dispatcher *audit.Dispatcher
	counters   *telemetry.Counters
	maxLen     int
}

// New assembles a Service. Controller is required; a nil dispatcher disables
// auditing and a nil counters disables stats.
func New(cfg Config) *Service {
	d := cfg.Dispatcher
	if d == nil {
		d = audit.NewDispatcher(audit.Nop{}, 1)
	}
	c := cfg.Counters
	if c == nil {
		c = &telemetry.Counters{}
	}
	m := cfg.Monitor
	if m == nil {
		m = abuse.NewMonitor(cfg.Controller.Ledger())
	}
	return &Service{
		controller: cfg.Controller,
		monitor:    m,
		dispatcher: d,
		counters:   c,
		maxLen:     cfg.MaxInputLength,
	}
}

// Check gates one request. Stages run in order and short-circuit on
// rejection; on an allowed result the caller holds one concurrency slot and
// must call RecordEnd when the request finishes. Audit writes are
// fire-and-forget and never delay or fail the decision.
func (s *Service) Check(ctx context.Context, userID, model, rawInput string) Result {
	s.counters.ChecksTotal.Add(1)

	// Stage 1: structural validation on the raw input.
	if vr := injection.ValidateStructure(rawInput, s.maxLen); !vr.Valid {
		s.counters.BlockedValidation.Add(1)
		s.recordIncident(userID, IncidentInvalidInput, vr.Reason)
		return Result{Stage: StageValidation, Reason: vr.Reason}
	}

	// Stage 2: injection detection on the sanitized form.
	iv := injection.Detect(rawInput)
	if iv.RiskLevel == injection.RiskHigh || iv.RiskLevel == injection.RiskCritical {
		s.counters.BlockedInjection.Add(1)
		s.recordIncident(userID, IncidentPromptInjection,
			fmt.Sprintf("risk=%s score=%.2f patterns=%v", iv.RiskLevel, iv.RiskScore, iv.DetectedPatterns))
		return Result{
			Stage:            StageInjection,
			Reason:           "input flagged as prompt injection",
			RiskLevel:        iv.RiskLevel,
			DetectedPatterns: iv.DetectedPatterns,
		}
	}

	// Medium risk proceeds, but only with the sanitized form; the raw
	// input is no longer trusted.
	forward := rawInput
	if iv.RiskLevel == injection.RiskMedium {
		forward = iv.SanitizedText
		s.counters.SanitizedInputs.Add(1)
	}

	// Stage 3: abuse admission against tier budgets and the ledger.
	av := s.controller.CheckAdmission(ctx, userID, model, utf8.RuneCountInString(forward))
	if !av.Allowed {
		s.counters.BlockedAdmission.Add(1)
		return Result{
			Stage:            StageAdmission,
			Reason:           av.Reason,
			RetryAfter:       av.RetryAfter,
			RiskLevel:        iv.RiskLevel,
			DetectedPatterns: iv.DetectedPatterns,
			Tier:             av.Tier,
			Metrics:          av.Metrics,
		}
	}

	s.counters.Allowed.Add(1)
	return Result{
		Allowed:          true,
		SanitizedInput:   forward,
		RiskLevel:        iv.RiskLevel,
		DetectedPatterns: iv.DetectedPatterns,
		Tier:             av.Tier,
		Metrics:          av.Metrics,
	}
}

// RecordStart books a started request in the ledger. Does not touch the
// concurrency counter; that slot was taken by Check.
func (s *Service) RecordStart(userID, model string, inputTokens int) {
	s.controller.Ledger().RecordStart(userID, model, inputTokens)
}

// RecordEnd releases the concurrency slot taken by an allowed Check.
func (s *Service) RecordEnd(userID string) {
	s.controller.Ledger().RecordEnd(userID)
}

// Snapshot returns the user's current usage metrics.
func (s *Service) Snapshot(userID string) abuse.Snapshot {
	return s.controller.Ledger().Snapshot(userID)
}

// Sweep prunes the ledger. Intended to run on a timer.
func (s *Service) Sweep() {
	s.controller.Ledger().Sweep()
}

// DetectPatterns reports advisory abuse patterns for a user and records an
// incident when any fire.
func (s *Service) DetectPatterns(userID string) (bool, []string) {
	abusive, patterns := s.monitor.DetectPatterns(userID)
	if abusive {
		s.counters.AbusePatternsFired.Add(1)
		s.recordIncident(userID, IncidentAbusePattern, fmt.Sprintf("patterns=%v", patterns))
	}
	return abusive, patterns
}

// ValidateStructure exposes the structural gate standalone (used by /v1/scan).
func (s *Service) ValidateStructure(text string) injection.ValidationResult {
	return injection.ValidateStructure(text, s.maxLen)
}

// DetectInjection exposes the injection detector standalone (used by /v1/scan).
func (s *Service) DetectInjection(text string) injection.Verdict {
	return injection.Detect(text)
}

// Stats returns the process-local counters plus audit dispatcher health.
func (s *Service) Stats() map[string]any {
	return map[string]any{
		"counters":        s.counters.Snapshot(),
		"audit_dropped":   s.dispatcher.Dropped(),
		"audit_failed":    s.dispatcher.Failed(),
		"audit_in_flight": s.dispatcher.InFlight(),
		"tracked_users":   s.controller.Ledger().Users(),
	}
}

func (s *Service) recordIncident(userID, kind, details string) {
	s.counters.IncidentsRecorded.Add(1)
	s.dispatcher.Record(audit.NewIncident(userID, kind, details))
}
