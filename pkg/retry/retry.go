// Package retry implements the exponential-backoff retry policy of the
// engine's error handling design: only transient errors (connection,
// timeout) are retried, everything else propagates immediately.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// Policy configures how Do backs off between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the computed delay to randomize, 0..1
}

// DefaultPolicy mirrors the engine's default connection-retry behavior.
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	Multiplier:  2.0,
	Jitter:      0.2,
}

// Do runs fn up to policy.MaxAttempts times, backing off exponentially
// between attempts. Only flowerrors.IsRetryable errors are retried; any
// other error, or a canceled context, returns immediately.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := policy.BaseDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !flowerrors.IsRetryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := withJitter(delay, policy.Jitter)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return lastErr
}

func withJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	offset := (rand.Float64()*2 - 1) * spread
	result := float64(d) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}
