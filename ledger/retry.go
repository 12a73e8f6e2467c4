package ledger

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// =============================================================================
// RETRY POLICY - Bounded retries on optimistic-lock conflicts
// =============================================================================

// RetryConfig bounds how often a conflicting transaction is re-run.
type RetryConfig struct {
	MaxAttempts int // total attempts, including the first
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig is 3 attempts with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Millisecond
	}
	// failsafe requires maxDelay > delay
	if c.MaxDelay <= c.BaseDelay {
		c.MaxDelay = 2 * c.BaseDelay
	}
	return c
}

func newRetryPolicy(cfg RetryConfig) retrypolicy.RetryPolicy[any] {
	cfg = cfg.normalized()
	return retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return IsRetryable(err) }).
		WithMaxRetries(cfg.MaxAttempts-1).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		Build()
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent. Exhaustion surfaces as
// *ConcurrentModificationError.
func (l *Ledger) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := 0
	err := failsafe.With(l.retryPolicy).WithContext(ctx).Run(func() error {
		attempts++
		if attempts > 1 {
			l.metrics.retry(op)
			l.log.Warn().Str("operation", op).Int("attempt", attempts).Msg("retrying after concurrent modification")
		}
		return fn()
	})
	if err != nil && IsRetryable(err) {
		return &ConcurrentModificationError{Operation: op, Attempts: attempts, Err: err}
	}
	return err
}
