// Package retry reruns operations that fail with transient errors, such as a
// dropped database connection.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the pause before the second try. Zero retries immediately.
	Delay time.Duration
	// MaxDelay caps the pause between tries. Zero means no cap.
	MaxDelay time.Duration
	// Factor multiplies the pause after every failed retry. Values below 1
	// keep the pause constant.
	Factor float64
	// Retryable reports whether err warrants another try. Nil retries every
	// error not marked Permanent.
	Retryable func(err error) bool
	// BeforeRetry runs before every retry with the failure that caused it.
	// A non-nil return aborts and Do returns the original failure.
	BeforeRetry func(ctx context.Context, attempt int, err error) error
}

// Once retries a single time without delay.
func Once(retryable func(error) bool) Policy {
	return Policy{Attempts: 2, Retryable: retryable}
}

// Do runs op until it succeeds, fails permanently, exhausts the policy or ctx
// is done. The returned error is the last failure of op, unwrapped from
// Permanent.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return unwrapPermanent(err)
		}
		if attempt >= attempts || ctx.Err() != nil {
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if wait := p.delay(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
		if p.BeforeRetry != nil {
			if hookErr := p.BeforeRetry(ctx, attempt+1, err); hookErr != nil {
				return err
			}
		}
	}
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// delay returns the pause after the given failed attempt.
func (p Policy) delay(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(p.Delay) * math.Pow(factor, float64(attempt-1)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func unwrapPermanent(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}
