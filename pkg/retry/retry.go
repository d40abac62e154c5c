// Package retry holds the backoff policies shared by the store health checks
// and the AI dispatcher.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how often and how patiently an operation is retried
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Fixed waits BaseDelay between every attempt instead of doubling it
	Fixed bool
	// Notify is called with the failure and the wait before the next attempt
	Notify func(err error, next time.Duration)
}

// Exponential doubles base up to max between attempts
func Exponential(attempts int, base, max time.Duration) Policy {
	return Policy{Attempts: attempts, BaseDelay: base, MaxDelay: max}
}

// Fixed retries a fixed number of times with a fixed delay
func Fixed(attempts int, delay time.Duration) Policy {
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return Policy{Attempts: attempts, BaseDelay: delay, Fixed: true}
}

// BackOff returns a fresh schedule of waits for the policy. Delays are
// deterministic: no jitter is applied.
func (p Policy) BackOff() backoff.BackOff {
	if p.Fixed {
		return backoff.NewConstantBackOff(p.BaseDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Reset()
	return b
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs fn until it succeeds, returns a Permanent error, the attempts run
// out or ctx ends
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	calls := 0
	var last error
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.BackOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(p.Notify)))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		calls++
		last = fn(ctx)
		return struct{}{}, last
	}, opts...)
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if errors.As(last, &perm) {
		return perm.Err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && calls < attempts {
		return fmt.Errorf("retry interrupted after %d attempts: %w", calls, last)
	}
	return fmt.Errorf("gave up after %d attempts: %w", calls, err)
}
