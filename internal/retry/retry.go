// Package retry runs a single operation with bounded, exponentially delayed
// retries. Delays grow as InitialDelay × 2^(attempt-1) with no jitter and no
// cap other than MaxAttempts. Cancellation of the context aborts any pending
// wait and all further attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = time.Second
)

var (
	// ErrNonRetryable marks a failure the policy refused to retry.
	ErrNonRetryable = errors.New("non-retryable failure")
	// ErrAttemptsExhausted marks a retryable failure that hit MaxAttempts.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	// ErrCancelled marks an operation aborted by its context.
	ErrCancelled = errors.New("cancelled")
)

// Policy controls how Do retries an operation.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration

	// Retryable decides whether a failed attempt may be retried. A nil
	// Retryable treats every error as retryable.
	Retryable func(error) bool

	// OnRetry, when set, is called before each wait with the attempt that
	// just failed and the delay about to be slept.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.Retryable == nil {
		p.Retryable = func(error) bool { return true }
	}
	return p
}

// Error is returned by Do when the operation did not succeed. It matches one
// of ErrNonRetryable, ErrAttemptsExhausted or ErrCancelled via errors.Is and
// also unwraps to the last error returned by the operation.
type Error struct {
	Kind     error
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v after %d attempt(s)", e.Kind, e.Attempts)
	}
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Attempts reports how many times the operation was invoked, or 0 when err
// did not come from Do.
func Attempts(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}

// MaxDelay is what Delay saturates at once doubling would overflow.
const MaxDelay = time.Duration(math.MaxInt64)

// Delay returns the wait that follows the given failed attempt (1-based).
func Delay(initial time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift >= 63 || initial > MaxDelay>>shift {
		// MaxAttempts is the only bound we honor.
		return MaxDelay
	}
	return initial << shift
}

// Do invokes op until it succeeds, the policy declines a retry, MaxAttempts
// is reached, or ctx is done.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var (
		result   T
		attempts int
		lastErr  error
		declined bool
	)

	backoff := goretry.WithMaxRetries(uint64(p.MaxAttempts-1), goretry.BackoffFunc(func() (time.Duration, bool) {
		d := Delay(p.InitialDelay, attempts)
		if p.OnRetry != nil {
			p.OnRetry(attempts, d, lastErr)
		}
		return d, false
	}))

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		if !p.Retryable(err) {
			declined = true
			return err
		}
		return goretry.RetryableError(err)
	})
	if err == nil {
		return result, nil
	}

	var zero T
	switch {
	case ctx.Err() != nil:
		cause := ctx.Err()
		if lastErr != nil && !errors.Is(lastErr, cause) {
			cause = errors.Join(cause, lastErr)
		}
		return zero, &Error{Kind: ErrCancelled, Attempts: attempts, Err: cause}
	case declined:
		return zero, &Error{Kind: ErrNonRetryable, Attempts: attempts, Err: lastErr}
	default:
		return zero, &Error{Kind: ErrAttemptsExhausted, Attempts: attempts, Err: lastErr}
	}
}
