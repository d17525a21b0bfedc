// Package retry wraps external I/O in an exponential backoff policy that only
// retries transient failures.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dvloznov/budgetflow/internal/logger"
)

// Default policy values.
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultMultiplier = 2.0
	DefaultJitter     = time.Second
)

// Policy describes how many times and how long to wait between attempts.
// A call is attempted at most MaxRetries+1 times.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     time.Duration

	// Retryable classifies errors; nil means IsTransient.
	Retryable func(error) bool
	// Sleep waits between attempts; nil means a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the service-wide policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Multiplier: DefaultMultiplier,
		Jitter:     DefaultJitter,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() Policy {
	return Policy{MaxRetries: 0}
}

// Delay returns the backoff before retry number attempt (0-based), jitter included.
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = DefaultMultiplier
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	delay := time.Duration(d)

	if p.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(p.Jitter) + 1))
	}
	return delay
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn under the policy. Non-retryable errors return after the first
// attempt; otherwise the last error is returned once attempts are exhausted.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !p.retryable(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if attempt == maxRetries {
			break
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		delay := p.Delay(attempt)
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt+1).
			Int("max_attempts", maxRetries+1).
			Dur("backoff", delay).
			Msg("Transient failure, retrying")

		if err := p.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", op, lastErr)
		}
	}

	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", op, maxRetries+1, lastErr)
}
