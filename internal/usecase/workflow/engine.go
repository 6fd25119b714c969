// Package workflow runs pipelines as durable runs: every run is persisted,
// executes on a bounded worker pool, and is composed of memoized, retryable
// steps that honour cooperative cancellation.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
	"github.com/kailas-cloud/ragflow/internal/logger"
	"github.com/kailas-cloud/ragflow/internal/metrics"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	finalSaveTimeout       = 10 * time.Second
)

// Config sizes the worker pool and sets the default step retry policy.
type Config struct {
	// PoolSize bounds concurrently executing runs; <= 0 means NumCPU.
	PoolSize int
	// QueueSize bounds runs waiting for a worker; <= 0 means unbounded.
	QueueSize int
	Retry     RetryPolicy
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// Engine schedules and executes pipeline runs.
type Engine struct {
	store  RunStore
	pool   *ants.Pool
	policy RetryPolicy
	newID  func() string
	now    func() time.Time
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[domrun.Kind]Handler

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an engine with its own worker pool.
func New(store RunStore, cfg Config, log *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = runtime.NumCPU()
	}
	poolOpts := []ants.Option{
		ants.WithPanicHandler(func(p any) {
			log.Error("Worker panic", zap.Any("panic", p))
		}),
	}
	if cfg.QueueSize > 0 {
		poolOpts = append(poolOpts, ants.WithMaxBlockingTasks(cfg.QueueSize))
	}
	pool, err := ants.NewPool(size, poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    store,
		pool:     pool,
		policy:   cfg.Retry,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log,
		handlers: make(map[domrun.Kind]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Register binds a handler to a pipeline kind.
func (e *Engine) Register(kind domrun.Kind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

func (e *Engine) handler(kind domrun.Kind) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[kind]
	return h, ok
}

// Trigger persists a pending run for input and schedules it. It returns as
// soon as the run is queued.
func (e *Engine) Trigger(ctx context.Context, kind domrun.Kind, input any) (string, error) {
	if _, ok := e.handler(kind); !ok {
		return "", fmt.Errorf("no pipeline registered for kind %q: %w", kind, domain.ErrInvalidInput)
	}

	r, err := domrun.New(e.newID(), kind, input, e.now())
	if err != nil {
		return "", err
	}
	if err := e.store.Save(ctx, &r); err != nil {
		return "", fmt.Errorf("persist run: %w", err)
	}

	id := r.ID
	if err := e.pool.Submit(func() { e.execute(id) }); err != nil {
		if ferr := r.Fail("", err, nil, e.now()); ferr == nil {
			if serr := e.store.Save(ctx, &r); serr != nil {
				e.logger.Warn("Failed to persist unscheduled run", zap.String("run_id", id), zap.Error(serr))
			}
		}
		if errors.Is(err, ants.ErrPoolOverload) || errors.Is(err, ants.ErrPoolClosed) {
			return "", fmt.Errorf("schedule run %s: %v: %w", id, err, domain.ErrUnavailable)
		}
		return "", fmt.Errorf("schedule run %s: %w", id, err)
	}

	e.logger.Info("Run triggered", zap.String("run_id", id), zap.String("kind", string(kind)))
	return id, nil
}

// Status returns the persisted run.
func (e *Engine) Status(ctx context.Context, id string) (*domrun.Run, error) {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch run: %w", err)
	}
	return r, nil
}

// Cancel raises the cancel flag of a non-terminal run and returns the run as
// currently stored. The run stops at its next step boundary.
func (e *Engine) Cancel(ctx context.Context, id string) (*domrun.Run, error) {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch run: %w", err)
	}
	if r.Status.Terminal() {
		return r, fmt.Errorf("run %s is %s: %w", id, r.Status, domain.ErrRunTerminal)
	}
	if err := e.store.RequestCancel(ctx, id); err != nil {
		return nil, fmt.Errorf("cancel run: %w", err)
	}
	e.logger.Info("Run cancel requested", zap.String("run_id", id))
	return r, nil
}

// InFlight returns the number of runs currently executing.
func (e *Engine) InFlight() int { return e.pool.Running() }

// Shutdown stops accepting runs and waits for in-flight runs until ctx
// expires; runs still executing then are interrupted.
func (e *Engine) Shutdown(ctx context.Context) error {
	timeout := defaultShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	err := e.pool.ReleaseTimeout(timeout)
	e.cancel()
	if err != nil {
		return fmt.Errorf("drain worker pool: %w", err)
	}
	return nil
}

func (e *Engine) execute(id string) {
	ctx := e.ctx
	r, err := e.store.Get(ctx, id)
	if err != nil {
		e.logger.Error("Failed to load scheduled run", zap.String("run_id", id), zap.Error(err))
		return
	}
	if r.Status.Terminal() {
		return
	}

	log := e.logger.With(zap.String("run_id", id), zap.String("kind", string(r.Kind)))
	ctx = logger.ContextWithLogger(ctx, log)
	x := &Exec{engine: e, run: r, logger: log}

	h, ok := e.handler(r.Kind)
	if !ok {
		e.finish(x, nil, fmt.Errorf("no pipeline registered for kind %q: %w", r.Kind, domain.ErrInvalidInput))
		return
	}
	if err := x.checkCancel(ctx); err != nil {
		e.finish(x, nil, err)
		return
	}

	if r.Status == domrun.StatusPending {
		if err := r.Transition(domrun.StatusRunning, e.now()); err != nil {
			log.Error("Failed to start run", zap.Error(err))
			return
		}
		if err := e.store.Save(ctx, r); err != nil {
			log.Warn("Failed to persist running status", zap.Error(err))
		}
	}

	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	log.Info("Run started")
	start := time.Now()
	out, err := invoke(ctx, h, x)
	e.finish(x, out, err)
	log.Info("Run finished",
		zap.String("status", string(r.Status)),
		zap.Duration("duration", time.Since(start)),
	)
}

func invoke(ctx context.Context, h Handler, x *Exec) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pipeline panic: %v", p)
		}
	}()
	return h(ctx, x)
}

func (e *Engine) finish(x *Exec, out any, err error) {
	r := x.run
	now := e.now()

	var terr error
	switch {
	case err == nil:
		terr = r.Succeed(out, now)
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled):
		terr = r.Transition(domrun.StatusCancelled, now)
	default:
		step, cause := x.step, err
		var se *StepError
		if errors.As(err, &se) {
			step, cause = se.Step, se.Err
		}
		terr = r.Fail(step, cause, x.partial, now)
		x.logger.Warn("Run failed", zap.String("step", step), zap.Error(cause))
	}
	if terr != nil {
		x.logger.Error("Failed to finalize run", zap.Error(terr))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), finalSaveTimeout)
	defer cancel()
	if serr := e.store.Save(ctx, r); serr != nil {
		x.logger.Error("Failed to persist run result", zap.Error(serr))
	}
	metrics.RunsTotal.WithLabelValues(string(r.Kind), string(r.Status)).Inc()
}
