package runtime

import (
	"fmt"
	"time"
)

// RetryOptions configure the bounded exponential-backoff retry policy.
type RetryOptions struct {
	MaxAttempts  int               // total attempts, including the first
	InitialDelay time.Duration     // sleep before the second attempt
	Multiplier   float64           // backoff factor between attempts
	RetryIf      func(error) bool  // classifies an error as retryable; nil = retry everything
}

// DefaultRetry is the policy used for transient runtime commands.
var DefaultRetry = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	Multiplier:   2,
}

// Retry invokes op, retrying retryable failures with exponential backoff.
// Non-retryable failures propagate immediately without consuming the retry
// budget. On exhaustion the last error is wrapped with the attempt count.
func Retry(op func() error, opts RetryOptions) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 1
	}

	delay := opts.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if opts.RetryIf != nil && !opts.RetryIf(lastErr) {
			return lastErr
		}
		if attempt == opts.MaxAttempts {
			break
		}
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * opts.Multiplier)
	}
	return fmt.Errorf("failed after %d attempts: %w", opts.MaxAttempts, lastErr)
}

// RetryValue is Retry for operations that produce a value alongside the
// error, keeping the policy composable with (value, error) shapes.
func RetryValue[T any](op func() (T, error), opts RetryOptions) (T, error) {
	var out T
	err := Retry(func() error {
		var opErr error
		out, opErr = op()
		return opErr
	}, opts)
	return out, err
}
