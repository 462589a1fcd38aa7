package cloud

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Eventual-consistency retry limits. Provider APIs routinely report a
// just-created resource as missing for a few seconds; the caps keep a
// genuinely absent resource from stalling a deployment for long.
const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
	retryMaxElapsed      = 2 * time.Minute
)

// WithRetry runs op with capped exponential backoff until it succeeds,
// returns a non-retryable error, or the context ends. Only throttled and
// transient APIErrors are retried.
func WithRetry(ctx context.Context, op func() error) error {
	wrapped := func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(newExponential()),
		backoff.WithMaxElapsedTime(retryMaxElapsed),
	)
	return err
}

func newExponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	return b
}
