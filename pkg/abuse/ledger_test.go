package abuse

import (
	"sync"
	"testing"
	"time"
)

// testClock marches time forward deterministically.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLedger(clock *testClock) *Ledger {
	l := NewLedger(DefaultPolicy())
	l.now = clock.Now
	return l
}

func TestLedgerSnapshotWindows(t *testing.T) {
	clock := newTestClock()
	l := newTestLedger(clock)

	l.RecordStart("alice", "gpt-4o", 1000) // leaves the hour window
	clock.Advance(61 * time.Minute)
	l.RecordStart("alice", "gpt-4o", 1000) // in hour, out of minute
	clock.Advance(2 * time.Minute)
	l.RecordStart("alice", "gpt-4o", 1000) // in both

	snap := l.Snapshot("alice")
	if snap.RequestsLastMinute != 1 {
		t.Errorf("requests last minute = %d, want 1", snap.RequestsLastMinute)
	}
	if snap.RequestsLastHour != 2 {
		t.Errorf("requests last hour = %d, want 2", snap.RequestsLastHour)
	}
	// Two surviving gpt-4o entries at 1000 tokens, 0.03 each.
	if snap.TotalCostLastHour < 0.059 || snap.TotalCostLastHour > 0.061 {
		t.Errorf("total cost last hour = %f, want ~0.06", snap.TotalCostLastHour)
	}
}

func TestLedgerSnapshotUnknownUser(t *testing.T) {
	l := newTestLedger(newTestClock())
	if snap := l.Snapshot("nobody"); snap != (Snapshot{}) {
		t.Errorf("unknown user snapshot = %+v, want zero", snap)
	}
}

func TestLedgerRecordEndClampsAtZero(t *testing.T) {
	l := newTestLedger(newTestClock())

	l.RecordEnd("ghost") // unknown user: no-op, no panic

	if !l.TryAcquire("alice", 5) {
		t.Fatal("acquire failed on empty ledger")
	}
	l.RecordEnd("alice")
	l.RecordEnd("alice")
	l.RecordEnd("alice")

	if snap := l.Snapshot("alice"); snap.ConcurrentRequests != 0 {
		t.Errorf("concurrent = %d after repeated RecordEnd, want 0", snap.ConcurrentRequests)
	}
}

func TestLedgerTryAcquireLimit(t *testing.T) {
	l := newTestLedger(newTestClock())

	for i := 0; i < 3; i++ {
		if !l.TryAcquire("alice", 3) {
			t.Fatalf("acquire %d failed under limit", i)
		}
	}
	if l.TryAcquire("alice", 3) {
		t.Fatal("acquire over limit succeeded")
	}
	if snap := l.Snapshot("alice"); snap.ConcurrentRequests != 3 {
		t.Errorf("concurrent = %d after failed acquire, want 3 (rollback)", snap.ConcurrentRequests)
	}

	l.Release("alice")
	if !l.TryAcquire("alice", 3) {
		t.Fatal("acquire failed after release")
	}
}

func TestLedgerTryAcquireConcurrent(t *testing.T) {
	l := newTestLedger(newTestClock())

	const callers = 100
	const limit = 7
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire("shared", limit) {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != limit {
		t.Errorf("acquired = %d, want exactly %d", acquired, limit)
	}
	if snap := l.Snapshot("shared"); snap.ConcurrentRequests != limit {
		t.Errorf("concurrent = %d, want %d", snap.ConcurrentRequests, limit)
	}
}

func TestLedgerSweep(t *testing.T) {
	clock := newTestClock()
	l := newTestLedger(clock)

	l.RecordStart("stale", "gpt-4o", 100)
	l.RecordStart("busy", "gpt-4o", 100)
	l.TryAcquire("held", 5) // no entries, but a live slot

	clock.Advance(2 * time.Hour)
	l.RecordStart("busy", "gpt-4o", 100)

	l.Sweep()

	if _, ok := l.lookup("stale"); ok {
		t.Error("stale user not evicted")
	}
	if _, ok := l.lookup("busy"); !ok {
		t.Error("active user evicted")
	}
	if _, ok := l.lookup("held"); !ok {
		t.Error("user with live concurrency evicted")
	}

	// Idempotent: a second sweep changes nothing.
	before := l.Users()
	l.Sweep()
	if l.Users() != before {
		t.Errorf("second sweep changed user count: %d -> %d", before, l.Users())
	}
}

func TestLedgerRecordStartDoesNotTouchConcurrency(t *testing.T) {
	l := newTestLedger(newTestClock())
	l.RecordStart("alice", "gpt-4o", 100)
	if snap := l.Snapshot("alice"); snap.ConcurrentRequests != 0 {
		t.Errorf("RecordStart changed concurrency: %d", snap.ConcurrentRequests)
	}
}

func TestLedgerCostUsesModelTier(t *testing.T) {
	l := newTestLedger(newTestClock())
	l.RecordStart("alice", "gpt-4o-mini", 1000) // low tier: 0.001
	snap := l.Snapshot("alice")
	if snap.TotalCostLastHour < 0.0009 || snap.TotalCostLastHour > 0.0011 {
		t.Errorf("cost = %f, want ~0.001 (low tier)", snap.TotalCostLastHour)
	}
}
