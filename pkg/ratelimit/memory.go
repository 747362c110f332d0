package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMaxRequests     = 100
	defaultWindow          = time.Minute
	defaultCleanupInterval = time.Minute
	defaultMaxIdle         = 5 * time.Minute
)

// Config controls the in-memory limiter behavior.
type Config struct {
	// MaxRequests is the number of requests allowed per key per window
	MaxRequests int

	// Window is the sliding window length
	Window time.Duration

	// CleanupInterval is how often to clean up idle entries
	CleanupInterval time.Duration

	// MaxIdle is the maximum time an entry can be idle before being removed
	MaxIdle time.Duration

	// Now is a function that returns the current time (for testing)
	Now func() time.Time
}

// DefaultConfig returns a config suitable for a single-process deployment.
func DefaultConfig() Config {
	return Config{
		MaxRequests:     defaultMaxRequests,
		Window:          defaultWindow,
		CleanupInterval: defaultCleanupInterval,
		MaxIdle:         defaultMaxIdle,
	}
}

// entry is the per-key sliding window: request timestamps in insertion order
// plus the last time the key was touched (for idle eviction).
type entry struct {
	mu       sync.Mutex
	times    []time.Time
	lastSeen time.Time
}

// Memory is a sliding-window limiter held entirely in process memory.
// Each (bucket, key) pair gets its own window and its own lock, so unrelated
// callers never contend. A background loop evicts idle entries.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxRequests     int
	window          time.Duration
	cleanupInterval time.Duration
	maxIdle         time.Duration
	now             func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMemory creates an in-memory limiter. Zero-valued config fields fall back
// to defaults. The cleanup loop starts on first use.
func NewMemory(cfg Config) *Memory {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = defaultMaxIdle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Memory{
		entries:         make(map[string]*entry),
		maxRequests:     cfg.MaxRequests,
		window:          cfg.Window,
		cleanupInterval: cfg.CleanupInterval,
		maxIdle:         cfg.MaxIdle,
		now:             cfg.Now,
		stopCh:          make(chan struct{}),
		stoppedCh:       make(chan struct{}),
	}
}

// Check records the request if allowed and reports the decision. Never
// returns an error; the in-memory limiter has no failure mode.
func (m *Memory) Check(ctx context.Context, bucket, key string) (Decision, error) {
	m.startOnce.Do(func() { go m.cleanupLoop() })

	now := m.now()
	e := m.getEntry(bucket + ":" + key)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastSeen = now
	e.times = prune(e.times, now.Add(-m.window))

	if len(e.times) >= m.maxRequests {
		oldest := e.times[0]
		reset := oldest.Add(m.window)
		return Decision{
			Allowed:    false,
			Limit:      m.maxRequests,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}, nil
	}

	e.times = append(e.times, now)
	return Decision{
		Allowed:   true,
		Limit:     m.maxRequests,
		Remaining: m.maxRequests - len(e.times),
		Reset:     e.times[0].Add(m.window),
	}, nil
}

func (m *Memory) getEntry(k string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	if !ok {
		e = &entry{}
		m.entries[k] = e
	}
	return e
}

// prune drops timestamps at or before cutoff, preserving order. The slice is
// reused to avoid churn on the hot path.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(times); i++ {
		if times[i].After(cutoff) {
			break
		}
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}

func (m *Memory) cleanupLoop() {
	defer close(m.stoppedCh)
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// cleanup removes keys idle past maxIdle. It holds the map lock only to
// collect candidates; per-entry state is checked under the entry lock.
func (m *Memory) cleanup() {
	cutoff := m.now().Add(-m.maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		e.mu.Lock()
		idle := e.lastSeen.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(m.entries, k)
		}
	}
}

// Stop terminates the cleanup loop. Safe to call more than once; safe to call
// even if Check was never invoked.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.startOnce.Do(func() { close(m.stoppedCh) })
	<-m.stoppedCh
}

// Len reports the number of tracked keys. Intended for tests and stats.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
