package llmclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"llmproxy/internal/core"
)

// RetryConfig controls the retry applied to a single provider call.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the randomization factor in [0,1] applied to each backoff.
	Jitter float64
}

// DefaultRetryConfig returns 3 attempts, 1s initial and 30s max backoff,
// multiplier 2 and 10% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	// Bounded by attempts, not elapsed time.
	b.MaxElapsedTime = 0

	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Retry runs op until it succeeds, returns a non-retryable *core.ProviderError,
// or the attempt budget is spent. It reports how many reattempts were made.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	var lastErr error

	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var pe *core.ProviderError
		if errors.As(err, &pe) && !pe.Retryable {
			return backoff.Permanent(err)
		}
		return err
	}, cfg.backOff(ctx))

	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	// Prefer the provider's own failure over a bare context error.
	if err != nil && lastErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return retries, lastErr
	}
	return retries, err
}
