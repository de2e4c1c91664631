package ingest

import (
	"context"
	"time"
)

// RetryPolicy is an explicit retry policy: a maximum number of retries and
// a backoff function over the zero-based attempt index. Error classification
// stays with the orchestrator; the policy only answers "how long to wait".
type RetryPolicy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration
}

// FixedBackoff waits the same duration between every attempt.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff doubles the base duration per attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}

// Wait sleeps for the attempt's backoff, returning early with ctx.Err() if
// the context is cancelled.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	d := time.Duration(0)
	if p.Backoff != nil {
		d = p.Backoff(attempt)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
