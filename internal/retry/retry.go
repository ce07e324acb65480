// Package retry runs an operation under a bounded attempt policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is matched by errors.Is on the error returned once every
// attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError carries the attempt count and the last failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }

// Policy describes how often and how far apart an operation is tried.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Backoff multiplies the delay after each failed attempt. Zero or one keeps it fixed.
	Backoff float64
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry observes each failure that will be followed by another attempt.
	OnRetry func(attempt int, err error)
	// OnExhausted observes the terminal failure.
	OnExhausted func(err *ExhaustedError)
}

// Do calls fn until it succeeds or the policy runs out of attempts.
// Context cancellation stops further attempts and is returned as is.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	delay := p.Delay
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			if p.Backoff > 1 {
				delay = time.Duration(float64(delay) * p.Backoff)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if attempt < attempts && p.OnRetry != nil {
			p.OnRetry(attempt, last)
		}
	}
	exhausted := &ExhaustedError{Attempts: attempts, Last: last}
	if p.OnExhausted != nil {
		p.OnExhausted(exhausted)
	}
	return exhausted
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
