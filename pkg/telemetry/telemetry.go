// Package telemetry keeps process-local counters for the admission service.
// Counters are cheap atomics, safe from any goroutine, and surfaced by the
// daemon's /stats endpoint. No external telemetry is emitted.
package telemetry

import "sync/atomic"

// Counters aggregates admission activity since process start.
type Counters struct {
	ChecksTotal        atomic.Int64
	Allowed            atomic.Int64
	BlockedValidation  atomic.Int64
	BlockedInjection   atomic.Int64
	BlockedAdmission   atomic.Int64
	SanitizedInputs    atomic.Int64
	IncidentsRecorded  atomic.Int64
	AbusePatternsFired atomic.Int64
}

// Snapshot is a plain-value copy for serialization.
type Snapshot struct {
	ChecksTotal        int64 `json:"checks_total"`
	Allowed            int64 `json:"allowed"`
	BlockedValidation  int64 `json:"blocked_validation"`
	BlockedInjection   int64 `json:"blocked_injection"`
	BlockedAdmission   int64 `json:"blocked_admission"`
	SanitizedInputs    int64 `json:"sanitized_inputs"`
	IncidentsRecorded  int64 `json:"incidents_recorded"`
	AbusePatternsFired int64 `json:"abuse_patterns_fired"`
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ChecksTotal:        c.ChecksTotal.Load(),
		Allowed:            c.Allowed.Load(),
		BlockedValidation:  c.BlockedValidation.Load(),
		BlockedInjection:   c.BlockedInjection.Load(),
		BlockedAdmission:   c.BlockedAdmission.Load(),
		SanitizedInputs:    c.SanitizedInputs.Load(),
		IncidentsRecorded:  c.IncidentsRecorded.Load(),
		AbusePatternsFired: c.AbusePatternsFired.Load(),
	}
}
