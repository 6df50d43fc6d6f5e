// Package retry holds the backoff policy the worker applies around external
// calls. Delays double on every attempt and are capped by MaxDelay.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted wraps the last error once MaxAttempts have been used.
var ErrExhausted = errors.New("retry: attempts exhausted")

type Policy struct {
	MaxAttempts int           // total attempts including the first one
	BaseDelay   time.Duration // delay after the first failure
	MaxDelay    time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns production retry defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// NoDelay retries up to attempts times without sleeping. Meant for tests.
func NoDelay(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

// Backoff returns the delay before attempt number attempt+1 (attempt is 1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempt
// budget runs out. retryable decides which errors are worth another attempt.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if serr := p.sleep(ctx, p.Backoff(attempt)); serr != nil {
			return serr
		}
	}
	return errors.Join(ErrExhausted, err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
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
