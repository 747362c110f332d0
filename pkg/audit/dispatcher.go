package audit

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

const (
	defaultDispatchCapacity = 100
	defaultWriteTimeout     = 5 * time.Second
)

// Dispatcher funnels incidents to a sink asynchronously with a bounded
// number of in-flight writes. Fire-and-forget: when the bound is reached the
// incident is dropped and counted rather than blocking the caller, and sink
// errors are logged locally, never propagated to the admission path.
type Dispatcher struct {
	sink    Sink
	sem     chan struct{}
	timeout time.Duration
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewDispatcher wraps sink. capacity bounds concurrent in-flight writes;
// values <= 0 select the default.
func NewDispatcher(sink Sink, capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = defaultDispatchCapacity
	}
	return &Dispatcher{
		sink:    sink,
		sem:     make(chan struct{}, capacity),
		timeout: defaultWriteTimeout,
	}
}

// Record dispatches the incident without blocking. Returns immediately; the
// write happens on its own goroutine with its own timeout, detached from the
// caller's context.
func (d *Dispatcher) Record(inc Incident) {
	select {
	case d.sem <- struct{}{}:
	default:
		d.dropped.Add(1)
		return
	}

	go func() {
		defer func() { <-d.sem }()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sink.RecordSecurityIncident(ctx, inc); err != nil {
			d.failed.Add(1)
			log.Printf("[WARN] audit write failed (kind=%s user=%s): %v", inc.Kind, inc.UserID, err)
		}
	}()
}

// Dropped returns the number of incidents discarded at capacity.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Failed returns the number of sink writes that returned an error.
func (d *Dispatcher) Failed() int64 {
	return d.failed.Load()
}

// InFlight reports writes currently outstanding. Useful for stats.
func (d *Dispatcher) InFlight() int {
	return len(d.sem)
}
