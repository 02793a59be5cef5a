/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry provides backoff policies shared by the scheduler (delays between re-queued attempts)
// and the coordinator (in-place retries of a single operation).
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IsRetryable defines a func that can tell if error is retryable as opposed to persistent.
type IsRetryable func(error) bool

// RetryableFunc is function that does some work and can be potentially retried.
type RetryableFunc func(ctx context.Context) error

// Policy defines backoff strategy.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// DoWithRetry executes fn with retry according to policy p and with respect to context ctx.
// isRetryable defines which errors lead to retry attempt (nil means any error).
// notify is called before every retry with the error and the delay (may be nil).
func DoWithRetry(ctx context.Context, p Policy, isRetryable IsRetryable, notify backoff.Notify, fn RetryableFunc) error {
	bctx := backoff.WithContext(p.NewBackOff(), ctx)
	op := func() error {
		err := fn(bctx.Context())
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, bctx, notify)
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as retry.Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements retry.Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// ExponentialBackoffPolicy repeats up to max times, doubling the delay after every attempt.
// There is no jitter: the n-th retry (counting from zero) waits exactly base * 2^n.
// Without a retry limit the delay stops growing after UnlimitedMaxDoublings retries.
// Delays never exceed the largest representable time.Duration.
type ExponentialBackoffPolicy struct {
	base        time.Duration
	maxAttempts int
}

// NewExponentialBackoffPolicy returns an exponential backoff policy with given base delay and max retry attempt count.
func NewExponentialBackoffPolicy(base time.Duration, maxRetryAttempts int) ExponentialBackoffPolicy {
	return ExponentialBackoffPolicy{base, maxRetryAttempts}
}

// MaxAttempts returns the maximum number of retries (0 means unlimited).
func (p ExponentialBackoffPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// NewBackOff implements retry.Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = p.maxInterval()
	eb.MaxElapsedTime = 0
	var bf backoff.BackOff = eb
	if p.maxAttempts > 0 {
		bf = backoff.WithMaxRetries(eb, uint64(p.maxAttempts))
	}
	bf.Reset()
	return bf
}

// UnlimitedMaxDoublings is how many times the delay of an unlimited exponential policy doubles.
const UnlimitedMaxDoublings = 10

// maxInterval is the delay of the last allowed retry.
func (p ExponentialBackoffPolicy) maxInterval() time.Duration {
	doublings := p.maxAttempts - 1
	if p.maxAttempts <= 0 {
		doublings = UnlimitedMaxDoublings
	}
	d := p.base
	for i := 0; i < doublings && d <= math.MaxInt64/2; i++ {
		d *= 2
	}
	return d
}

// Delay returns the delay before the retry with the given zero-based index.
// ok is false if the policy does not allow that many retries.
func (p ExponentialBackoffPolicy) Delay(retryCount int) (d time.Duration, ok bool) {
	if retryCount < 0 {
		return 0, false
	}
	bf := p.NewBackOff()
	for i := 0; i <= retryCount; i++ {
		if d = bf.NextBackOff(); d == backoff.Stop {
			return 0, false
		}
	}
	return d, true
}

// ConstantBackoffPolicy means repeat up to max times with constant interval delays.
type ConstantBackoffPolicy struct {
	interval    time.Duration
	maxAttempts int
}

// NewConstantBackoffPolicy returns a constant backoff policy with given interval and max retry attempt count.
func NewConstantBackoffPolicy(interval time.Duration, maxRetryAttempts int) ConstantBackoffPolicy {
	return ConstantBackoffPolicy{interval, maxRetryAttempts}
}

// NewBackOff implements retry.Policy.
func (p ConstantBackoffPolicy) NewBackOff() backoff.BackOff {
	var bf backoff.BackOff = backoff.NewConstantBackOff(p.interval)
	if p.maxAttempts > 0 {
		bf = backoff.WithMaxRetries(bf, uint64(p.maxAttempts))
	}
	bf.Reset()
	return bf
}
