// Package ratelimit provides a generic sliding-window rate limiter keyed by
// bucket name and caller identity. Two implementations are provided: an
// in-memory limiter for single-process deployments and a Redis-backed one for
// fleets. Callers treat the limiter as advisory infrastructure: an error from
// Check is a limiter failure, not a denial, and the caller decides whether to
// fail open or closed.
package ratelimit

import (
	"context"
	"time"
)

// Decision captures the outcome of a limiter check.
type Decision struct {
	// Allowed indicates whether the request is allowed
	Allowed bool

	// Limit is the maximum number of requests allowed in the window
	Limit int

	// Remaining is the number of requests remaining in the current window
	Remaining int

	// Reset is the time when the oldest counted request leaves the window
	Reset time.Time

	// RetryAfter is the duration to wait before retrying (when not allowed)
	RetryAfter time.Duration
}

// Limiter is the generic check interface consumed by the admission layer.
// bucket namespaces unrelated quotas (e.g. "ai_request"); key identifies the
// caller within the bucket.
type Limiter interface {
	Check(ctx context.Context, bucket, key string) (Decision, error)
}

// Nop allows everything. Used when rate limiting is disabled by config.
type Nop struct{}

func (Nop) Check(ctx context.Context, bucket, key string) (Decision, error) {
	return Decision{Allowed: true, Limit: -1, Remaining: -1}, nil
}
