// Package retry runs bounded retry loops on a jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned (wrapping the last error) when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

const (
	randomization = 0.5
	multiplier    = 2
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error deserves another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnRetry observes each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// schedule builds the backoff for p: BaseDelay doubling up to MaxDelay, with
// at most attempts-1 retries, stopping early once ctx is done.
func (p Policy) schedule(ctx context.Context) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: randomization,
		Multiplier:          multiplier,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	return backoff.WithMaxRetries(backoff.WithContext(exp, ctx), uint64(p.attempts()-1))
}

// Do calls fn until it succeeds, returns a non-retryable error, or runs out of attempts.
// Exhaustion returns an error wrapping both ErrExhausted and the last failure.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	var (
		attempt   int
		last      error
		permanent bool
	)
	op := func() error {
		err := fn(attempt)
		attempt++
		last = err
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt-1, err)
		}
	}

	err := backoff.RetryNotify(op, p.schedule(ctx), notify)
	switch {
	case err == nil:
		return nil
	case permanent:
		return last
	case ctx.Err() != nil:
		return errors.Join(fmt.Errorf("retry: context done: %w", ctx.Err()), last)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, last)
}
