// Package retry provides the backoff, timeout and retry primitives shared by
// the dispatchers and both settlement engines. The building blocks compose:
// wrap an operation with WithTimeout to bound a single attempt, then hand the
// wrapped operation to Do to repeat it under an exponential-backoff schedule.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Default backoff parameters: 1s doubling per attempt, capped at 30s.
const (
	DefaultBase = 1000 * time.Millisecond
	DefaultCap  = 30000 * time.Millisecond
)

// Kind classifies primitive-level failures.
type Kind int

const (
	// KindTimeout marks an attempt that exceeded its time bound.
	KindTimeout Kind = iota
	// KindInvalidArgument marks a programmer error such as a non-positive
	// timeout bound. It is reported synchronously, before the operation runs.
	KindInvalidArgument
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the failure type produced by the primitives in this package.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a retry error of kind Timeout.
func IsTimeout(err error) bool {
	re, ok := err.(*Error)
	return ok && re.Kind == KindTimeout
}

// BackoffDelay computes the delay before retry attempt n (n >= 0) as
// min(base * 2^n, cap). Non-positive base or cap fall back to the defaults.
func BackoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBase
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// WithTimeout runs op under a deadline of d. The operation receives a derived
// context that is cancelled when the bound elapses; a cooperative op stops
// early, a non-cooperative one keeps running in its goroutine and its result
// is discarded once the waiter has been released.
//
// A non-positive d is a programmer error and fails synchronously with
// KindInvalidArgument; op is not invoked.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return zero, &Error{Kind: KindInvalidArgument, Op: "retry.WithTimeout", Err: fmt.Errorf("non-positive bound %v", d)}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opCtx, cancel := context.WithTimeout(ctx, d)

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := op(opCtx)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		cancel()
		return out.v, out.err
	case <-opCtx.Done():
		cancel()
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &Error{Kind: KindTimeout, Op: "retry.WithTimeout", Err: opCtx.Err()}
	}
}

// Options configures Do.
type Options struct {
	// MaxRetries is the number of additional attempts after the first
	// failure. Zero means at most one attempt.
	MaxRetries int
	// Base and Cap bound the exponential backoff schedule. Zero values use
	// DefaultBase and DefaultCap.
	Base time.Duration
	Cap  time.Duration
	// ShouldRetry decides whether a failure is worth another attempt.
	// Nil means every failure is retried.
	ShouldRetry func(error) bool
	// OnRetry is invoked before each backoff sleep with the upcoming attempt
	// number (1-based) and the error that caused it.
	OnRetry func(attempt int, err error)
}

// Do executes op, retrying failures according to opts. It returns the first
// success, or the last error once MaxRetries additional attempts have been
// spent or ShouldRetry declines. Backoff sleeps respect ctx cancellation.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt >= opts.MaxRetries {
			return zero, lastErr
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return zero, lastErr
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err)
		}

		delay := BackoffDelay(attempt, opts.Base, opts.Cap)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
