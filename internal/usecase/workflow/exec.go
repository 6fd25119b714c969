package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
	"github.com/kailas-cloud/ragflow/internal/metrics"
)

// StepError attributes a pipeline failure to the step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// Exec is the per-run execution handle passed to a Handler.
type Exec struct {
	engine  *Engine
	run     *domrun.Run
	logger  *zap.Logger
	step    string
	partial any
}

// RunID returns the id of the executing run.
func (x *Exec) RunID() string { return x.run.ID }

// Logger returns the run-scoped logger.
func (x *Exec) Logger() *zap.Logger { return x.logger }

// Input decodes the run input into v.
func (x *Exec) Input(v any) error {
	if err := json.Unmarshal(x.run.Input, v); err != nil {
		return fmt.Errorf("decode %s input: %v: %w", x.run.Kind, err, domain.ErrInvalidInput)
	}
	return nil
}

// SetPartial records what a failing run should still report.
func (x *Exec) SetPartial(v any) { x.partial = v }

// StepOption customizes a single step.
type StepOption func(*RetryPolicy)

// WithRetry replaces the engine retry policy for one step.
func WithRetry(p RetryPolicy) StepOption {
	return func(dst *RetryPolicy) { *dst = p }
}

// Step runs fn as a named, memoized, retryable unit. A step already recorded
// on the run returns its stored output without calling fn. A raised cancel
// flag stops the run before the step starts; an in-flight step always
// completes.
func Step[T any](
	ctx context.Context,
	x *Exec,
	name string,
	fn func(ctx context.Context) (T, error),
	opts ...StepOption,
) (T, error) {
	var zero T
	x.step = name
	logger := x.logger.With(zap.String("step", name))

	if raw, ok := x.run.StepOutput(name); ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			logger.Debug("Step replayed")
			return out, nil
		}
		logger.Warn("Discarding unreadable step output")
	}

	if err := x.checkCancel(ctx); err != nil {
		return zero, err
	}

	policy := x.engine.policy
	for _, opt := range opts {
		opt(&policy)
	}

	kind := string(x.run.Kind)
	var out T
	err := policy.Do(ctx,
		func(ctx context.Context, attempt int) error {
			start := time.Now()
			logger.Debug("Step started", zap.Int("attempt", attempt))

			v, err := fn(ctx)
			duration := time.Since(start)
			if err != nil {
				metrics.StepDuration.WithLabelValues(kind, name, "error").Observe(duration.Seconds())
				return err
			}
			metrics.StepDuration.WithLabelValues(kind, name, "success").Observe(duration.Seconds())
			logger.Info("Step finished", zap.Int("attempt", attempt), zap.Duration("duration", duration))
			out = v
			return nil
		},
		func(attempt int, err error, delay time.Duration) {
			metrics.StepRetriesTotal.WithLabelValues(kind, name).Inc()
			logger.Warn("Step failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
		},
	)
	if err != nil {
		return zero, &StepError{Step: name, Err: err}
	}

	if err := x.run.RecordStep(name, out, x.engine.now()); err != nil {
		return zero, &StepError{Step: name, Err: err}
	}
	// a lost memo only costs a re-execution on replay
	if err := x.engine.store.Save(ctx, x.run); err != nil {
		logger.Warn("Failed to persist step output", zap.Error(err))
	}
	return out, nil
}

func (x *Exec) checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	requested, err := x.engine.store.CancelRequested(ctx, x.run.ID)
	if err != nil {
		x.logger.Warn("Failed to read cancel flag", zap.Error(err))
		return nil
	}
	if requested {
		return domain.ErrCancelled
	}
	return nil
}
