package core

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"maxAttempts" json:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval" json:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval" json:"maxInterval"`
}

// DefaultRetryPolicy returns three attempts starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0

	// WithMaxRetries treats zero as unlimited.
	if p.MaxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// Retry runs op until it succeeds, returns a non-transient error, the
// attempts are used up, or ctx is done. onRetry, when non-nil, is called
// before each wait.
func Retry(ctx context.Context, p RetryPolicy, op func() error, onRetry func(err error, wait time.Duration)) error {
	wrapped := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(err, wait)
		}
	}
	return backoff.RetryNotify(wrapped, p.backOff(ctx), notify)
}
