package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes the pause before an in-place retry.
// A zero Base disables waiting.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter is the fraction, in [0, 1], by which a delay may be randomly
	// shortened. Zero keeps delays exact.
	Jitter float64
}

// Delay returns the pause before the given retry (1-based): Base doubled per
// previous retry, capped at Max, then shortened by up to Jitter of itself.
func (b Backoff) Delay(retry int) time.Duration {
	d := b.ceiling(retry)
	if d == 0 || b.Jitter <= 0 {
		return d
	}
	j := min(b.Jitter, 1)
	return d - time.Duration(float64(d)*j*rand.Float64())
}

func (b Backoff) ceiling(retry int) time.Duration {
	if b.Base <= 0 || retry <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Wait sleeps for the delay of the given retry or until ctx is done.
func (b Backoff) Wait(ctx context.Context, retry int) error {
	d := b.Delay(retry)
	if d == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
