// Package retry decides whether a failed node attempt runs again and how
// long to wait before it does.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// Operation is one attempt of a retried call. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Policy holds retry configuration. Nothing is defaulted: callers build it
// from configuration and Validate rejects incomplete policies.
type Policy struct {
	// MaxAttempts is the maximum number of attempts including the initial attempt
	MaxAttempts int

	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration

	// MaxDelay caps the exponential delay
	MaxDelay time.Duration

	// BackoffMultiplier is the factor by which the delay increases
	BackoffMultiplier float64

	// JitterEnabled scales each delay by a random factor in [0.5, 1.5]
	JitterEnabled bool

	// Classifier decides which errors are transient
	Classifier Classifier
}

// Validate checks that every field is usable
func (p Policy) Validate() error {
	const op = "validate retry policy"
	switch {
	case p.MaxAttempts < 1:
		return flowerrors.Validationf(op, "max attempts must be at least 1, got %d", p.MaxAttempts)
	case p.BaseDelay < 0:
		return flowerrors.Validationf(op, "negative base delay %s", p.BaseDelay)
	case p.MaxDelay < p.BaseDelay:
		return flowerrors.Validationf(op, "max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	case p.BackoffMultiplier < 1 || math.IsNaN(p.BackoffMultiplier) || math.IsInf(p.BackoffMultiplier, 0):
		return flowerrors.Validationf(op, "backoff multiplier must be a finite number >= 1, got %v", p.BackoffMultiplier)
	case p.Classifier == nil:
		return flowerrors.Validationf(op, "no retryable classifier")
	}
	return nil
}

// ShouldRetry is the pure retry decision after attempt attempts have failed
// with err. It always hands back an error for the caller to report: err
// itself, or a RetryExhaustedError once the attempt budget is spent.
func ShouldRetry(err error, attempt int, p Policy) (bool, error) {
	if err == nil {
		return false, nil
	}
	if attempt >= p.MaxAttempts {
		return false, &flowerrors.RetryExhaustedError{Attempts: attempt, Last: err}
	}
	if p.Classifier == nil || !p.Classifier.Retryable(err) {
		return false, err
	}
	return true, err
}

// Delay returns the wait before the attempt following attempt. rnd supplies
// values in [0, 1) for jitter; nil uses math/rand.
func Delay(attempt int, p Policy, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterEnabled {
		if rnd == nil {
			rnd = rand.Float64
		}
		delay *= 0.5 + rnd()
	}

	// float64(math.MaxInt64) rounds up to 2^63, which does not convert
	if delay >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

type runner struct {
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(attempt int, delay time.Duration, err error)
	rnd     func() float64
}

// Option configures Do
type Option func(*runner)

// WithSleep replaces the timer-based wait between attempts
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *runner) { r.sleep = sleep }
}

// WithOnRetry is called before each wait with the attempt that just failed
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *runner) { r.onRetry = fn }
}

// WithRand sets the jitter source
func WithRand(rnd func() float64) Option {
	return func(r *runner) { r.rnd = rnd }
}

// Do runs op until it succeeds or ShouldRetry says stop. It returns the
// number of attempts made and the final error.
func Do(ctx context.Context, p Policy, op Operation, opts ...Option) (int, error) {
	r := &runner{sleep: sleepContext}
	for _, opt := range opts {
		opt(r)
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempt, flowerrors.Wrap(err, flowerrors.ErrCancelled, "operation cancelled")
		}

		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		again, err := ShouldRetry(err, attempt, p)
		if !again {
			return attempt, err
		}

		delay := Delay(attempt, p, r.rnd)
		if r.onRetry != nil {
			r.onRetry(attempt, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return attempt, flowerrors.Wrap(err, flowerrors.ErrCancelled, "operation cancelled during backoff")
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
