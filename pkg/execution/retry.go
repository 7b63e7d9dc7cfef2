// Package execution drives agent invocations: per-call retry with
// exponential backoff, per-agent circuit breaking, fallback dispatch, and
// sequential/parallel fan-out.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/maestroproj/maestro/pkg/agent"
	"github.com/maestroproj/maestro/pkg/config"
)

// RetryPolicy bounds one logical call. MaxRetries of 0 means a single
// attempt; the total attempt count is always MaxRetries+1.
type RetryPolicy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// PolicyFromConfig builds the default retry policy from settings.
func PolicyFromConfig(r config.RetryDefaults) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      r.MaxRetries,
		InitialDelay:    r.InitialDelay.Std(),
		MaxDelay:        r.MaxDelay.Std(),
		ExponentialBase: r.ExponentialBase,
	}
}

// Delay computes the backoff before the given retry attempt (1-based),
// with uniform jitter in [0, delay/2].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	if max := float64(p.MaxDelay); base > max {
		base = max
	}
	jitter := rand.Float64() * base / 2
	return time.Duration(base + jitter)
}

// RetryableError marks an error as explicitly retryable regardless of its
// underlying type.
type RetryableError struct {
	Err error
}

// Error returns the wrapped error message.
func (e *RetryableError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the retry core will retry it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable classifies an agent error. Retryable: attempt timeout,
// network/IO failures, 5xx-category status errors, and errors explicitly
// wrapped with Retryable. Non-retryable: request cancellation, auth
// failures, and anything else (schema/validation failures returned by the
// agent must not be retried blindly).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if agent.IsAuthError(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr *agent.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return false
}

// retryResult carries one call's outcome and attempt count.
type retryResult struct {
	output   map[string]any
	attempts int
	err      error
}

// doWithRetry runs fn up to policy.MaxRetries+1 times. Each attempt is
// bounded by attemptTimeout. ctx cancellation aborts immediately, including
// mid-backoff.
func doWithRetry(ctx context.Context, policy RetryPolicy, attemptTimeout time.Duration,
	fn func(ctx context.Context) (map[string]any, error)) retryResult {

	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return retryResult{attempts: attempt - 1, err: fmt.Errorf("retry aborted: %w", ctx.Err())}
			case <-time.After(policy.Delay(attempt - 1)):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, attemptTimeout)
		}
		output, err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return retryResult{output: output, attempts: attempt}
		}
		lastErr = err

		// A cancelled request must not burn further attempts.
		if ctx.Err() != nil {
			return retryResult{attempts: attempt, err: lastErr}
		}
		if !IsRetryable(err) {
			return retryResult{attempts: attempt, err: lastErr}
		}
	}
	return retryResult{attempts: policy.MaxRetries + 1, err: lastErr}
}
