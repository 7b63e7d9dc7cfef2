package execution

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestroproj/maestro/pkg/agent"
)

// fastPolicy keeps test backoff in the microsecond range.
var fastPolicy = RetryPolicy{
	MaxRetries:      2,
	InitialDelay:    time.Microsecond,
	MaxDelay:        10 * time.Microsecond,
	ExponentialBase: 2.0,
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancellation", context.Canceled, false},
		{"attempt timeout", context.DeadlineExceeded, true},
		{"auth failure", &agent.StatusError{Code: 401, Message: "no"}, false},
		{"server error", &agent.StatusError{Code: 503, Message: "busy"}, true},
		{"client error", &agent.StatusError{Code: 422, Message: "bad"}, false},
		{"explicit retryable", Retryable(errors.New("flaky")), true},
		{"network error", &net.DNSError{Err: "lookup failed", IsTemporary: true}, true},
		{"plain error", errors.New("schema mismatch"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestDoWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	result := doWithRetry(context.Background(), fastPolicy, 0, func(context.Context) (map[string]any, error) {
		calls++
		return nil, Retryable(errors.New("still failing"))
	})

	assert.Equal(t, fastPolicy.MaxRetries+1, calls, "max_retries+1 attempts total")
	assert.Equal(t, fastPolicy.MaxRetries+1, result.attempts)
	require.Error(t, result.err)
}

func TestDoWithRetrySucceedsMidway(t *testing.T) {
	calls := 0
	result := doWithRetry(context.Background(), fastPolicy, 0, func(context.Context) (map[string]any, error) {
		calls++
		if calls < 2 {
			return nil, Retryable(errors.New("transient"))
		}
		return map[string]any{"ok": true}, nil
	})

	require.NoError(t, result.err)
	assert.Equal(t, 2, result.attempts)
	assert.Equal(t, map[string]any{"ok": true}, result.output)
}

func TestDoWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	result := doWithRetry(context.Background(), fastPolicy, 0, func(context.Context) (map[string]any, error) {
		calls++
		return nil, errors.New("validation rejected")
	})

	assert.Equal(t, 1, calls)
	require.Error(t, result.err)
}

func TestDoWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	result := doWithRetry(ctx, fastPolicy, 0, func(context.Context) (map[string]any, error) {
		calls++
		cancel()
		return nil, Retryable(errors.New("transient"))
	})

	assert.Equal(t, 1, calls, "a cancelled request must not burn further attempts")
	require.Error(t, result.err)
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{
		MaxRetries:      5,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        400 * time.Millisecond,
		ExponentialBase: 2.0,
	}

	// Jitter adds up to half the base delay on top.
	d1 := p.Delay(1)
	assert.GreaterOrEqual(t, d1, 100*time.Millisecond)
	assert.LessOrEqual(t, d1, 150*time.Millisecond)

	d4 := p.Delay(4)
	assert.LessOrEqual(t, d4, 600*time.Millisecond, "capped at max_delay plus jitter")
}
