package pool

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/stateset/stateset-mcp-server-sub001/api"
)

// maxJitter is the upper bound of the random addition to every backoff
// delay. Jitter spreads simultaneous retries so they do not hit the API
// in lockstep after an outage.
const maxJitter = time.Second

// RetryConfig configures retry behavior for pooled requests.
// Immutable after construction.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Default: 3
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the computed delay (before jitter).
	// Default: 30s
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay each attempt.
	// Default: 2.0
	BackoffFactor float64

	// RetryIf determines if an error should trigger a retry.
	// Default: api.IsRetryable
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.RetryIf == nil {
		c.RetryIf = api.IsRetryable
	}
	return c
}

// backoffDelay returns the delay before retry n (1-based):
// min(BaseDelay * BackoffFactor^(n-1), MaxDelay) plus up to one second
// of jitter.
func (c RetryConfig) backoffDelay(attempt int) time.Duration {
	multiplier := math.Pow(c.BackoffFactor, float64(attempt-1))
	delay := time.Duration(float64(c.BaseDelay) * multiplier)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	return delay + time.Duration(rand.Int63n(int64(maxJitter)))
}

// executeWithRetry runs op, retrying retryable failures with backoff.
// Non-retryable errors and exhausted retries propagate immediately.
func (c RetryConfig) executeWithRetry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !c.RetryIf(err) {
			return err
		}
		if attempt >= c.MaxRetries {
			break
		}

		delay := c.backoffDelay(attempt + 1)
		if c.OnRetry != nil {
			c.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
