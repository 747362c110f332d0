package abuse

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	ledgerShards    = 32
	retentionWindow = time.Hour
)

// UsageEntry records one started request. Immutable once appended.
type UsageEntry struct {
	Timestamp time.Time
	Cost      float64
	Model     string
}

// Snapshot is a point-in-time view of one user's recent usage.
type Snapshot struct {
	RequestsLastMinute int     `json:"requests_last_minute"`
	RequestsLastHour   int     `json:"requests_last_hour"`
	TotalCostLastHour  float64 `json:"total_cost_last_hour"`
	ConcurrentRequests int     `json:"concurrent_requests"`
}

// userLedger is one user's mutable state. Guarded by its own mutex so
// unrelated users never contend; concurrent never goes below zero.
type userLedger struct {
	mu         sync.Mutex
	entries    []UsageEntry
	concurrent int
}

type ledgerShard struct {
	mu    sync.RWMutex
	users map[string]*userLedger
}

// Ledger tracks per-user usage in a sharded in-memory map. Created lazily
// per user on first touch; stale users are evicted by Sweep.
type Ledger struct {
	shards [ledgerShards]*ledgerShard
	policy *Policy
	now    func() time.Time
}

// NewLedger creates an empty ledger using policy for cost estimation.
func NewLedger(policy *Policy) *Ledger {
	l := &Ledger{policy: policy, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &ledgerShard{users: make(map[string]*userLedger)}
	}
	return l
}

func (l *Ledger) shardFor(userID string) *ledgerShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return l.shards[h.Sum32()%ledgerShards]
}

// getOrCreate returns the user's ledger, creating it on first touch.
func (l *Ledger) getOrCreate(userID string) *userLedger {
	s := l.shardFor(userID)

	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok = s.users[userID]; ok {
		return u
	}
	u = &userLedger{}
	s.users[userID] = u
	return u
}

// lookup returns the user's ledger without creating it.
func (l *Ledger) lookup(userID string) (*userLedger, bool) {
	s := l.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	return u, ok
}

// RecordStart appends a usage entry with an estimated cost. It does not
// touch the concurrency counter; that increment happens exclusively inside
// the admission check.
func (l *Ledger) RecordStart(userID, model string, inputTokens int) {
	tier := l.policy.Lookup(model)
	u := l.getOrCreate(userID)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, UsageEntry{
		Timestamp: l.now(),
		Cost:      tier.EstimateCost(inputTokens),
		Model:     model,
	})
}

// RecordEnd decrements the user's concurrency counter, clamped at zero.
// Safe for unknown or already-zero users.
func (l *Ledger) RecordEnd(userID string) {
	u, ok := l.lookup(userID)
	if !ok {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.concurrent > 0 {
		u.concurrent--
	}
}

// TryAcquire performs the increment-check-rollback concurrency admission as
// one critical section: increment first, compare second, roll back on
// failure. Two racing callers can never both pass a full limit because the
// counter moves before the comparison.
func (l *Ledger) TryAcquire(userID string, maxConcurrent int) bool {
	u := l.getOrCreate(userID)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.concurrent++
	if u.concurrent > maxConcurrent {
		u.concurrent--
		return false
	}
	return true
}

// Release undoes one TryAcquire. Identical semantics to RecordEnd; named
// separately so rollback sites read as what they are.
func (l *Ledger) Release(userID string) {
	l.RecordEnd(userID)
}

// Snapshot prunes the user's entries to the retention window and returns
// current metrics. Unknown users yield a zero snapshot.
func (l *Ledger) Snapshot(userID string) Snapshot {
	u, ok := l.lookup(userID)
	if !ok {
		return Snapshot{}
	}

	now := l.now()
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = pruneEntries(u.entries, now.Add(-retentionWindow))

	snap := Snapshot{ConcurrentRequests: u.concurrent}
	minuteCutoff := now.Add(-time.Minute)
	for _, e := range u.entries {
		snap.RequestsLastHour++
		snap.TotalCostLastHour += e.Cost
		if e.Timestamp.After(minuteCutoff) {
			snap.RequestsLastMinute++
		}
	}
	return snap
}

// windowCounts reports total requests and per-model requests inside the
// given window. Used by the abuse-pattern monitor.
func (l *Ledger) windowCounts(userID string, window time.Duration) (total int, perModel map[string]int, concurrent int) {
	u, ok := l.lookup(userID)
	if !ok {
		return 0, nil, 0
	}

	cutoff := l.now().Add(-window)
	perModel = make(map[string]int)

	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range u.entries {
		if e.Timestamp.After(cutoff) {
			total++
			perModel[e.Model]++
		}
	}
	return total, perModel, u.concurrent
}

// Sweep prunes every user's entries to the retention window and evicts users
// with no entries and no live concurrency. Idempotent; locks one shard at a
// time so admission checks for unrelated users proceed unhindered.
func (l *Ledger) Sweep() {
	cutoff := l.now().Add(-retentionWindow)

	for _, s := range l.shards {
		s.mu.Lock()
		for id, u := range s.users {
			u.mu.Lock()
			u.entries = pruneEntries(u.entries, cutoff)
			evict := len(u.entries) == 0 && u.concurrent == 0
			u.mu.Unlock()
			if evict {
				delete(s.users, id)
			}
		}
		s.mu.Unlock()
	}
}

// Users reports the number of tracked users. Intended for stats and tests.
func (l *Ledger) Users() int {
	n := 0
	for _, s := range l.shards {
		s.mu.RLock()
		n += len(s.users)
		s.mu.RUnlock()
	}
	return n
}

// pruneEntries drops entries at or before cutoff. Entries are in insertion
// (time) order, so a single scan from the front suffices.
func pruneEntries(entries []UsageEntry, cutoff time.Time) []UsageEntry {
	i := 0
	for ; i < len(entries); i++ {
		if entries[i].Timestamp.After(cutoff) {
			break
		}
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0], entries[i:]...)
}
