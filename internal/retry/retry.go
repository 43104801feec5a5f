// Package retry bounds the re-execution of transient operations with
// exponential backoff. Retry state lives only for the duration of one
// Do call; nothing is persisted across runs.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. With BaseDelay b the waits between
// attempts are exactly b, 2b, 4b, ... (no jitter), and at most
// MaxAttempts attempts are made in total.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Notify is called before each backoff sleep with the error that
// triggered the retry and the upcoming delay.
type Notify func(err error, delay time.Duration)

// Do runs op until it succeeds, fails permanently, or the attempt
// budget is exhausted. transient decides whether an error is worth
// retrying; a nil transient retries everything. The error of the last
// attempt is returned on exhaustion. The backoff sleep honors ctx.
func Do(ctx context.Context, p Policy, op func() error, transient func(error) bool, notify Notify) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if transient != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, delay time.Duration) { notify(err, delay) }
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	return backoff.RetryNotify(wrapped, policy, onRetry)
}
