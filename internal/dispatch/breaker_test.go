package dispatch

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerCooldownGrowsAndResets(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{TripFailures: 2, BaseDelay: time.Minute, MaxDelay: 3 * time.Minute, ResetAfter: time.Hour})
	b.now = func() time.Time { return now }
	fail := errors.New("down")

	b.Record("k", fail)
	if ok, _ := b.Allow("k"); !ok {
		t.Fatal("opened before threshold")
	}
	b.Record("k", fail)
	if ok, until := b.Allow("k"); ok || !until.Equal(now.Add(time.Minute)) {
		t.Fatalf("Allow = %v, %v", ok, until)
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := b.Allow("k"); !ok {
		t.Fatal("still open after cooldown")
	}
	b.Record("k", fail)
	if _, until := b.Allow("k"); !until.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("cooldown did not double: %v", until)
	}
	b.Record("k", fail)
	b.Record("k", fail)
	if _, until := b.Allow("k"); !until.Equal(now.Add(3 * time.Minute)) {
		t.Fatalf("cooldown not capped: %v", until)
	}

	b.Record("k", nil)
	if ok, _ := b.Allow("k"); !ok {
		t.Fatal("success did not close the circuit")
	}
	if total, _ := b.Snapshot(); total != 0 {
		t.Fatalf("tracked = %d after success", total)
	}
}

func TestBreakerDisabled(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{TripFailures: -1})
	for i := 0; i < 10; i++ {
		b.Record("k", errors.New("x"))
	}
	if ok, _ := b.Allow("k"); !ok {
		t.Fatal("disabled breaker blocked a send")
	}
}
