// internal/dispatch/policy.go
package dispatch

import (
	"context"
	"time"

	"transit-notifications/internal/common/errors"
)

// RetryPolicy is the explicit retry contract applied at the gateway boundary.
// Nothing below the engine retries on its own.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	Retryable     func(error) bool
}

// DefaultRetryPolicy retries transient failures up to 3 attempts with
// exponential backoff starting at 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		BackoffFactor: 2,
		Retryable:     errors.IsRetryable,
	}
}

// Do runs op until it succeeds, exhausts MaxAttempts, hits a non-retryable
// error, or the context is canceled during backoff.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt >= attempts {
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if p.BackoffFactor > 0 {
			delay = time.Duration(float64(delay) * p.BackoffFactor)
		}
	}
}
