package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/ragflow/internal/domain"
)

// RetryPolicy decides how often and how fast a failed step is re-executed.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Retryable classifies step errors; nil means domain.IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient failures three times, starting at
// half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		Retryable:      domain.IsRetryable,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d: %w", p.MaxAttempts, domain.ErrInvalidInput)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return fmt.Errorf("backoff must not be negative: %w", domain.ErrInvalidInput)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %g: %w", p.Multiplier, domain.ErrInvalidInput)
	}
	return nil
}

// Backoff returns the delay before attempt+1, given that attempt (1-based)
// just failed: InitialBackoff * Multiplier^(attempt-1), capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if p.MaxBackoff > 0 && delay >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(delay) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether err after the given attempt earns another try.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsRetryable
	}
	return retryable(err)
}

// Do runs op until it succeeds, fails permanently or attempts run out.
// onRetry is called before every backoff sleep and may be nil.
func (p RetryPolicy) Do(
	ctx context.Context,
	op func(ctx context.Context, attempt int) error,
	onRetry func(attempt int, err error, delay time.Duration),
) error {
	if err := p.Validate(); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx, attempt)
		if !p.ShouldRetry(attempt, err) {
			return err
		}

		delay := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
