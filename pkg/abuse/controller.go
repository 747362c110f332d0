package abuse

import (
	"context"
	"log"
	"math"

	"github.com/vantage-sec/gatehouse/pkg/ratelimit"
)

// Input size ceilings, independent of tier.
const (
	maxInputChars  = 200_000
	maxInputTokens = 100_000
)

// Retry hints in seconds per rejection class.
const (
	retryMinute     = 60
	retryHour       = 3600
	retryConcurrent = 30
)

// Rejection reasons surfaced to callers.
const (
	ReasonRateLimited       = "rate limit exceeded"
	ReasonTooManyPerMinute  = "Too many requests per minute"
	ReasonTooManyPerHour    = "Too many requests per hour"
	ReasonTooManyConcurrent = "Too many concurrent requests"
	ReasonInputTooLong      = "input too long"
	ReasonInputTooLarge     = "input too large"
)

// Verdict is the admission decision. Metrics is present on every ledger-based
// denial and on every allow; it is absent when the external limiter denies
// (the ledger was never consulted).
type Verdict struct {
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	RetryAfter int       `json:"retry_after_seconds,omitempty"`
	Tier       TierName  `json:"tier"`
	Metrics    *Snapshot `json:"metrics,omitempty"`
}

func denied(tier TierName, reason string, retryAfter int, metrics *Snapshot) Verdict {
	return Verdict{Reason: reason, RetryAfter: retryAfter, Tier: tier, Metrics: metrics}
}

// Controller gates requests against tier budgets and the shared ledger.
type Controller struct {
	policy  *Policy
	ledger  *Ledger
	limiter ratelimit.Limiter

	// failClosed denies requests when the external limiter errors. Default
	// is fail-open: an unavailable limiter must not take the service down
	// with it.
	failClosed bool

	// bucket is the limiter namespace for AI request quota.
	bucket string
}

// NewController wires a controller. limiter may be ratelimit.Nop{} when no
// external quota applies.
func NewController(policy *Policy, ledger *Ledger, limiter ratelimit.Limiter, failClosed bool) *Controller {
	return &Controller{
		policy:     policy,
		ledger:     ledger,
		limiter:    limiter,
		failClosed: failClosed,
		bucket:     "ai_request",
	}
}

// Ledger exposes the controller's ledger for recording and monitoring.
func (c *Controller) Ledger() *Ledger {
	return c.ledger
}

// Policy exposes the tier table.
func (c *Controller) Policy() *Policy {
	return c.policy
}

// CheckAdmission decides whether one request may proceed. Each step
// short-circuits on rejection. On an allowed verdict the user holds one
// concurrency slot, which must be returned via RecordEnd when the request
// finishes; every rejection path leaves the counter as it found it.
func (c *Controller) CheckAdmission(ctx context.Context, userID, model string, inputLength int) Verdict {
	tier := c.policy.Lookup(model)

	// Step 1: coarse external quota. Ledger untouched on denial.
	d, err := c.limiter.Check(ctx, c.bucket, userID)
	if err != nil {
		if c.failClosed {
			return denied(tier.Name, ReasonRateLimited, retryMinute, nil)
		}
		log.Printf("[WARN] rate limiter unavailable, failing open: %v", err)
	} else if !d.Allowed {
		return denied(tier.Name, ReasonRateLimited, int(math.Ceil(d.RetryAfter.Seconds())), nil)
	}

	// Step 2: tier budgets over the pruned ledger.
	snap := c.ledger.Snapshot(userID)
	if snap.RequestsLastMinute >= tier.MaxPerMinute {
		return denied(tier.Name, ReasonTooManyPerMinute, retryMinute, &snap)
	}
	if snap.RequestsLastHour >= tier.MaxPerHour {
		return denied(tier.Name, ReasonTooManyPerHour, retryHour, &snap)
	}

	// Step 3: concurrency admission. Increment first, compare second,
	// roll back on failure; the whole sequence is one critical section.
	if !c.ledger.TryAcquire(userID, tier.MaxConcurrent) {
		snap = c.ledger.Snapshot(userID)
		return denied(tier.Name, ReasonTooManyConcurrent, retryConcurrent, &snap)
	}

	// Step 4: size ceilings. These run after the increment, so the slot
	// must be released on rejection: no denied request may hold capacity.
	if inputLength > maxInputChars {
		c.ledger.Release(userID)
		snap = c.ledger.Snapshot(userID)
		return denied(tier.Name, ReasonInputTooLong, 0, &snap)
	}
	if EstimateTokens(inputLength) > maxInputTokens {
		c.ledger.Release(userID)
		snap = c.ledger.Snapshot(userID)
		return denied(tier.Name, ReasonInputTooLarge, 0, &snap)
	}

	snap = c.ledger.Snapshot(userID)
	return Verdict{Allowed: true, Tier: tier.Name, Metrics: &snap}
}
