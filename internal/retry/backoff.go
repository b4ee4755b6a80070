package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoff returns delay based on attempt number.
// The delay doubles with each attempt: base * 2^attempt
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base * (1 << attempt)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep blocks for d unless ctx finishes first, in which case it returns ctx.Err().
func Sleep(ctx context.Context, d time.Duration) error {
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

// Permanent marks err so that Do stops retrying and returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op up to attempts times with jittered exponential backoff starting at base.
// Errors wrapped with Permanent end the loop immediately.
func Do(ctx context.Context, attempts int, base time.Duration, op func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = 16 * base
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.1

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}
