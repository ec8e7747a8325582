package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter is the fraction (0..1) of each delay that is randomised.
	Jitter float64
	// Retryable decides whether a failed attempt may be retried.
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Exponential returns a policy with doubling delays starting at base.
func Exponential(attempts int, base, max time.Duration, retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Multiplier:  2,
		Jitter:      0.2,
		Retryable:   retryable,
	}
}

// WithOnRetry returns a copy of p with the retry hook set.
func (p Policy) WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Policy {
	p.OnRetry = fn
	return p
}

// WithAttempts returns a copy of p with a different attempt ceiling.
func (p Policy) WithAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// Delay returns the backoff before attempt+1, where attempt is 1-based.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// ceiling is reached, or ctx is done. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts || !p.shouldRetry(ctx, err) {
			return err
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := Sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func (p Policy) shouldRetry(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return false
	}
	var stop *permanentError
	if errors.As(err, &stop) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable regardless of the policy predicate.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
