// Package retry provides bounded, jittered backoff for subprocess calls
// that fail transiently — lock contention on a git index, a momentarily
// unavailable external binary — as opposed to logical failures that
// retrying cannot fix.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Delay returns the backoff before retry attempt n (1-indexed):
// base * 2^(n-1), capped at maxDelay, plus up to 10% jitter.
func Delay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * multiplier)
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

// Policy bounds how many times a transient failure is retried and how long
// callers back off between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy retries a handful of times with sub-second-to-few-second
// backoff, suited to subprocess lock contention rather than long outages.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Do runs fn, retrying while isTransient(err) is true and attempts remain,
// sleeping Delay(attempt, ...) between tries. ctx cancellation aborts the
// wait immediately.
func Do(ctx context.Context, p Policy, isTransient func(error) bool, fn func() (string, error)) (string, error) {
	var out string
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err = fn()
		if err == nil || !isTransient(err) || attempt == p.MaxAttempts {
			return out, err
		}
		select {
		case <-time.After(Delay(attempt, p.BaseDelay, p.MaxDelay)):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, err
}
