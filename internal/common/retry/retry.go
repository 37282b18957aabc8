// Package retry provides an exponential-backoff retry combinator driven by
// an explicit Policy value rather than decorator-style wrapping. Providers
// pass a Policy into their clients; the retry loop lives here.
package retry

import (
	"context"
	"math/rand"
	"time"

	"filings-pipeline/internal/common/errors"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxRetries is the number of attempts before giving up.
	MaxRetries int

	// BaseDelay is the backoff delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps exponential growth of the backoff delay.
	MaxDelay time.Duration

	// Retryable decides which errors are worth retrying. A nil predicate
	// retries everything.
	Retryable func(error) bool
}

// DefaultPolicy returns the retry policy used for provider calls:
// 3 attempts, 1s base delay, 60s cap, retrying only transient errors.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
		Retryable:  errors.IsRetryable,
	}
}

// Delay computes the backoff delay for a zero-based attempt number:
// min(MaxDelay, BaseDelay*2^attempt) plus a random jitter in
// [0, 0.1*delay], never exceeding MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	if jitterCap := int64(d / 10); jitterCap > 0 {
		d += time.Duration(rand.Int63n(jitterCap))
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do executes fn up to MaxRetries times with exponential backoff between
// attempts. Non-retryable errors are returned immediately without consuming
// the retry budget. Once the budget is spent, the last underlying error is
// wrapped in a retrieval error.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			if p.Retryable != nil && !p.Retryable(err) {
				return err
			}
			lastErr = err
		}

		if attempt == p.MaxRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return errors.RetrievalError("retry cancelled", ctx.Err())
		case <-time.After(p.Delay(attempt)):
		}
	}

	return errors.RetrievalError("retry budget exhausted", lastErr)
}
