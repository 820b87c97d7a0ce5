// Package retryx is a small bounded-retry combinator over
// github.com/sethvargo/go-retry.
//
// The wrapped function decides per attempt whether a failure is worth
// retrying by returning Retryable(err); any other error stops immediately.
package retryx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrExhausted is returned (wrapping the last failure) when every attempt
// failed with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retry loop. MaxAttempts counts the first try.
// Delay is a constant pause between attempts; zero means retry immediately.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Once is a policy with a single retry after the first failure.
var Once = Policy{MaxAttempts: 2}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as eligible for another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds, returns a non-retryable error, the context is
// cancelled, or the policy runs out of attempts.
func Do(ctx context.Context, p Policy, fn Func) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	attempt := 0
	exhausted := false

	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var rerr *retryableError
		if !errors.As(err, &rerr) {
			return err
		}
		if attempt >= p.MaxAttempts {
			exhausted = true
		}
		return retry.RetryableError(rerr.err)
	})
	if err == nil {
		return nil
	}
	if exhausted {
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}
	return err
}

func (p Policy) backoff() retry.Backoff {
	var b retry.Backoff
	if p.Delay > 0 {
		b = retry.NewConstant(p.Delay)
	} else {
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}
