package resilience

import (
	"context"
	"time"
)

// Backoff computes bounded exponential delays between restart attempts.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
}

// DefaultBackoff returns the backoff used for worker restarts.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    100 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
	}
}

// Delay returns the delay before the given attempt. Attempt 0 yields no delay,
// attempt 1 yields Min, and every following attempt multiplies by Factor up to Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.Min <= 0 {
		return 0
	}

	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(b.Min)
	for i := 1; i < attempt; i++ {
		d *= factor
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}

	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Wait sleeps for the delay of attempt or until ctx is done.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	d := b.Delay(attempt)
	if d == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
