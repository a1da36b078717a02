package dispatch

import (
	"sync"
	"time"
)

// BreakerConfig configures the per-destination circuit breaker.
//
// If TripFailures < 0 the breaker is disabled; 0 applies the default.
type BreakerConfig struct {
	TripFailures int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ResetAfter   time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.TripFailures == 0 {
		c.TripFailures = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Minute
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 30 * time.Minute
	}
	return c
}

// circuitState tracks consecutive failures for one destination:
//   - On success: resets failures and closes the circuit.
//   - On failure: increments failures and, once failures >= trip,
//     opens the circuit for an exponentially increasing cooldown.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu sync.Mutex
	m  map[string]*circuitState
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now, m: map[string]*circuitState{}}
}

func (b *Breaker) enabled() bool { return b != nil && b.cfg.TripFailures > 0 }

// Allow reports whether a send to key may proceed, and if not, until when
// the circuit stays open.
func (b *Breaker) Allow(key string) (bool, time.Time) {
	if !b.enabled() {
		return true, time.Time{}
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.m[key]
	if st == nil {
		return true, time.Time{}
	}
	b.maybeResetLocked(st, now)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return false, st.openUntil
	}
	return true, time.Time{}
}

// Record updates key with the final result of a send.
func (b *Breaker) Record(key string, err error) {
	if !b.enabled() {
		return
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.m[key]
	if st == nil {
		if err == nil {
			return
		}
		st = &circuitState{}
		b.m[key] = st
	}
	b.maybeResetLocked(st, now)

	if err == nil {
		delete(b.m, key)
		return
	}
	st.fails++
	st.lastFailure = now
	if st.fails < b.cfg.TripFailures {
		return
	}

	d := b.cfg.BaseDelay
	for i := 0; i < st.fails-b.cfg.TripFailures; i++ {
		d *= 2
		if d >= b.cfg.MaxDelay {
			d = b.cfg.MaxDelay
			break
		}
	}
	st.openUntil = now.Add(d)
}

// Snapshot returns tracked destinations and how many are open.
func (b *Breaker) Snapshot() (total, open int) {
	if !b.enabled() {
		return 0, 0
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range b.m {
		total++
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}

// maybeResetLocked forgets failures older than ResetAfter.
func (b *Breaker) maybeResetLocked(st *circuitState, now time.Time) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > b.cfg.ResetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}
