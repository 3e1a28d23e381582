package notify

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry schedule for retryable send failures that carry no Retry-After.
const (
	retryInitialInterval = time.Second
	retryMaxInterval     = 5 * time.Minute
	retryMultiplier      = 2.0
	retryJitter          = 0.2
)

// NewRetryBackOff returns the exponential schedule used between retries.
// It never returns backoff.Stop; only a fatal response or Stop ends retrying.
func NewRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = retryJitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
