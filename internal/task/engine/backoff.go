package engine

import (
	"errors"
	"math/rand"
	"time"
)

// Backoff describes exponential retry delays with symmetric jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0.2 = 20%
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = 500 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 15 * time.Second
	}
	if b.Jitter <= 0 {
		b.Jitter = 0.2
	}
	return b
}

// Delay returns the wait before retry number `retry` (1-based). A RetryAfter
// hint carried by err takes precedence, bounded by Max.
func (b Backoff) Delay(retry int, err error, rng *rand.Rand) time.Duration {
	b = b.withDefaults()

	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d < 0 {
			d = 0
		}
		if d > b.Max {
			d = b.Max
		}
		return b.jitter(d, rng)
	}

	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > b.Max {
			d = b.Max
			break
		}
	}
	return b.jitter(d, rng)
}

func (b Backoff) jitter(d time.Duration, rng *rand.Rand) time.Duration {
	if b.Jitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * b.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}
