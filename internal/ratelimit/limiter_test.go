package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func newTestLimiter(rate int, window time.Duration) (*Limiter, *time.Time) {
	l := New(rate, window)
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowWithinBudget(t *testing.T) {
	l, _ := newTestLimiter(5, time.Minute)
	defer l.Close()

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("c1")
		if !ok {
			t.Fatalf("request %d rejected within budget", i+1)
		}
	}
	ok, retry := l.Allow("c1")
	if ok {
		t.Fatal("request above budget allowed")
	}
	if retry < 1 {
		t.Fatalf("retry-after = %d, want >= 1", retry)
	}
}

func TestSingleRequestBudget(t *testing.T) {
	l, now := newTestLimiter(1, time.Minute)
	defer l.Close()

	if ok, _ := l.Allow("c1"); !ok {
		t.Fatal("first request rejected")
	}
	if ok, _ := l.Allow("c1"); ok {
		t.Fatal("second request in window allowed")
	}

	*now = now.Add(time.Minute)
	if ok, _ := l.Allow("c1"); !ok {
		t.Fatal("request after full window rejected")
	}
}

func TestContinuousRefill(t *testing.T) {
	l, now := newTestLimiter(60, time.Minute)
	defer l.Close()

	for i := 0; i < 60; i++ {
		l.Allow("c1")
	}
	if ok, _ := l.Allow("c1"); ok {
		t.Fatal("drained bucket allowed a request")
	}

	// One token accrues per second at 60/min.
	*now = now.Add(time.Second)
	if ok, _ := l.Allow("c1"); !ok {
		t.Fatal("refilled token not granted")
	}
	if ok, _ := l.Allow("c1"); ok {
		t.Fatal("second request granted after single-token refill")
	}
}

func TestClientsIsolated(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	defer l.Close()

	l.Allow("c1")
	if ok, _ := l.Allow("c2"); !ok {
		t.Fatal("c2 throttled by c1's bucket")
	}
}

func TestTokensCappedAtBucketSize(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)
	defer l.Close()

	l.Allow("c1")
	*now = now.Add(time.Hour)

	granted := 0
	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow("c1"); ok {
			granted++
		}
	}
	if granted != 2 {
		t.Fatalf("granted %d after long idle, want bucket size 2", granted)
	}
}

func TestIdleSweep(t *testing.T) {
	l, now := newTestLimiter(5, time.Minute)
	defer l.Close()

	l.Allow("c1")
	l.Allow("c2")

	*now = now.Add(idleEvictAfter + time.Minute)
	l.Allow("c2")
	l.sweep()

	if got := l.Tracked(); got != 1 {
		t.Fatalf("Tracked() = %d after sweep, want 1", got)
	}
}

func TestCapacityEviction(t *testing.T) {
	evicted := 0
	l := New(5, time.Minute, WithEvictionObserver(func() { evicted++ }))
	defer l.Close()
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < maxClients+3; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	if got := l.Tracked(); got != maxClients {
		t.Fatalf("Tracked() = %d, want %d", got, maxClients)
	}
	if evicted != 3 {
		t.Fatalf("evictions = %d, want 3", evicted)
	}
}
