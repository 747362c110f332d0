package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, max int, window time.Duration, clock *fakeClock) *Redis {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	r := NewRedis(client, max, window)
	r.now = clock.Now
	return r
}

func TestRedisAllowsUpToLimit(t *testing.T) {
	clock := newFakeClock()
	r := newTestRedis(t, 3, time.Minute, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := r.Check(ctx, "ai_request", "alice")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied under limit", i)
		}
	}

	d, err := r.Check(ctx, "ai_request", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("request over limit allowed")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("retry after = %v, want (0, 1m]", d.RetryAfter)
	}
}

func TestRedisWindowSlides(t *testing.T) {
	clock := newFakeClock()
	r := newTestRedis(t, 2, time.Minute, clock)
	ctx := context.Background()

	r.Check(ctx, "b", "u")
	clock.Advance(30 * time.Second)
	r.Check(ctx, "b", "u")

	if d, _ := r.Check(ctx, "b", "u"); d.Allowed {
		t.Fatal("third request inside window allowed")
	}

	clock.Advance(31 * time.Second)
	if d, _ := r.Check(ctx, "b", "u"); !d.Allowed {
		t.Fatal("request denied after window slid")
	}
}

func TestRedisKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	r := newTestRedis(t, 1, time.Minute, clock)
	ctx := context.Background()

	if d, _ := r.Check(ctx, "b", "alice"); !d.Allowed {
		t.Fatal("alice denied")
	}
	if d, _ := r.Check(ctx, "b", "alice"); d.Allowed {
		t.Fatal("alice's second request allowed at limit 1")
	}
	if d, _ := r.Check(ctx, "b", "bob"); !d.Allowed {
		t.Fatal("bob denied by alice's quota")
	}
}

func TestRedisSameMicrosecondRequestsAllCount(t *testing.T) {
	// The clock never advances: every request shares one timestamp. Each must
	// still be recorded as a distinct window member.
	clock := newFakeClock()
	r := newTestRedis(t, 2, time.Minute, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := r.Check(ctx, "b", "u")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied under limit", i)
		}
	}

	if d, _ := r.Check(ctx, "b", "u"); d.Allowed {
		t.Fatal("third same-microsecond request allowed at limit 2")
	}
}

func TestRedisUnavailableReturnsError(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	r := NewRedis(client, 5, time.Minute)
	srv.Close()

	if _, err := r.Check(context.Background(), "b", "u"); err == nil {
		t.Fatal("expected error from unreachable redis")
	}
}
