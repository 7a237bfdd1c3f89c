// Package retry re-runs store calls with exponential backoff and jitter.
// Retries run inside the caller's context and stop as soon as it is done,
// so a retry can never outlive an evaluation timeout.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent stops retrying on err. Do returns err itself, unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// Policy describes how often and how long to retry.
type Policy struct {
	// Attempts counts the first call too. Values below 1 mean 1.
	Attempts int

	// Initial is the delay before the first retry; each next delay is
	// Multiplier times longer, capped at Max.
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter spreads each delay by ±Jitter of its length (0..1).
	Jitter float64

	// Retryable decides which errors are retried. nil retries every error
	// not marked Permanent.
	Retryable func(error) bool

	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Database is the policy for short Postgres reads.
func Database(retryable func(error) bool) Policy {
	return Policy{
		Attempts:   3,
		Initial:    50 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
		Jitter:     0.05,
		Retryable:  retryable,
	}
}

// Redis is the policy for cache and pub/sub calls. Redis is optional, so it
// gives up after a single retry.
func Redis() Policy {
	return Policy{
		Attempts:   2,
		Initial:    20 * time.Millisecond,
		Max:        200 * time.Millisecond,
		Multiplier: 2,
		Jitter:     0.1,
	}
}

// Do calls op until it succeeds, fails with an error that is not retried,
// runs out of attempts or ctx is done. The last error from op is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = op(ctx)
		switch {
		case err == nil:
			return nil
		case IsPermanent(err):
			var pe permanent
			errors.As(err, &pe)
			return pe.err
		case attempt >= attempts || !p.retryable(err):
			return err
		}

		wait := p.delay(attempt, rand.Float64)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// delay returns the sleep before retry number attempt (1-based).
func (p Policy) delay(attempt int, random func() float64) time.Duration {
	d := float64(p.Initial)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.Max > 0 && d >= float64(p.Max) {
			break
		}
	}
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (random()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}
