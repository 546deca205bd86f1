package monitor

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 1000 * time.Millisecond
)

// retryPolicy wraps one full per-device update attempt. It never wraps a
// sub-step in isolation: connect and read succeed or fail as a unit.
type retryPolicy struct {
	attempts int
	delay    time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		attempts: defaultRetryAttempts,
		delay:    defaultRetryDelay,
	}
}

// run invokes attempt up to p.attempts times with a fixed delay in between.
// Link-preserving failures are returned immediately. Cancellation aborts the
// loop without consuming the remaining delay.
func (p retryPolicy) run(ctx context.Context, attempt func(context.Context) error) error {
	var err error
	for n := 1; ; n++ {
		err = attempt(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !classify(err).retryable || n >= p.attempts {
			return err
		}

		timer := time.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
