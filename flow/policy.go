package flow

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy configures automatic retry of transient node failures with
// exponential backoff and jitter.
type RetryPolicy struct {
	// MaxAttempts is the total number of execution attempts including the
	// first. 1 means no retries.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth retrying. Nil treats
	// every error as non-retryable.
	Retryable func(error) bool
}

// DefaultRetryable retries transient kinds: external service failures and
// timeouts. Invalid state, cancellation, and upstream problems are not
// retried.
func DefaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindExternalServiceError, KindNodeTimeout, KindStorageUnavailable:
		return true
	}
	return false
}

// computeBackoff returns the delay before retry number attempt (zero
// based): min(base * 2^attempt, maxDelay) + jitter(0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	// Jitter spreads synchronized retries apart.
	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry timing, not security
	}

	return delay + jitter
}
