package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
)

type echoInput struct {
	Text string `json:"text"`
}

func echoHandler(ctx context.Context, x *Exec) (any, error) {
	var in echoInput
	if err := x.Input(&in); err != nil {
		return nil, err
	}
	upper, err := Step(ctx, x, "shout", func(context.Context) (string, error) {
		return in.Text + "!", nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"echo": upper}, nil
}

func TestEngine_TriggerRunsToSuccess(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store, 2)
	e.Register(domrun.KindIngest, echoHandler)

	id, err := e.Trigger(context.Background(), domrun.KindIngest, echoInput{Text: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	r := waitTerminal(t, e, id)
	assert.Equal(t, domrun.StatusSucceeded, r.Status)
	assert.JSONEq(t, `{"echo":"hi!"}`, string(r.Output))
	assert.JSONEq(t, `"hi!"`, string(r.Steps["shout"]))
	assert.Nil(t, r.Error)
}

func TestEngine_TriggerUnknownKind(t *testing.T) {
	e := newTestEngine(t, newMemStore(), 1)

	_, err := e.Trigger(context.Background(), domrun.KindQuery, echoInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEngine_RetryableStepIsRetried(t *testing.T) {
	e := newTestEngine(t, newMemStore(), 1)
	var calls atomic.Int32
	e.Register(domrun.KindQuery, func(ctx context.Context, x *Exec) (any, error) {
		return Step(ctx, x, "flaky", func(context.Context) (int, error) {
			if calls.Add(1) < 3 {
				return 0, domain.ErrInference
			}
			return 42, nil
		})
	})

	id, err := e.Trigger(context.Background(), domrun.KindQuery, echoInput{})
	require.NoError(t, err)

	r := waitTerminal(t, e, id)
	assert.Equal(t, domrun.StatusSucceeded, r.Status)
	assert.Equal(t, int32(3), calls.Load())
	assert.JSONEq(t, `42`, string(r.Output))
}

func TestEngine_FailureRecordsStepKindAndPartial(t *testing.T) {
	e := newTestEngine(t, newMemStore(), 1)
	var calls atomic.Int32
	e.Register(domrun.KindQuery, func(ctx context.Context, x *Exec) (any, error) {
		if _, err := Step(ctx, x, "search", func(context.Context) ([]string, error) {
			return []string{"a.pdf"}, nil
		}); err != nil {
			return nil, err
		}
		x.SetPartial(map[string]int{"num_context": 1})
		return Step(ctx, x, "synthesize", func(context.Context) (string, error) {
			calls.Add(1)
			return "", domain.ErrInference
		})
	})

	id, err := e.Trigger(context.Background(), domrun.KindQuery, echoInput{})
	require.NoError(t, err)

	r := waitTerminal(t, e, id)
	require.Equal(t, domrun.StatusFailed, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, domain.KindInference, r.Error.Kind)
	assert.Equal(t, "synthesize", r.Error.Step)
	assert.JSONEq(t, `{"num_context":1}`, string(r.Partial))
	assert.Equal(t, int32(3), calls.Load(), "retryable failure uses every attempt")
	assert.Contains(t, r.Steps, "search")
}

func TestEngine_PermanentFailureIsNotRetried(t *testing.T) {
	e := newTestEngine(t, newMemStore(), 1)
	var calls atomic.Int32
	e.Register(domrun.KindIngest, func(ctx context.Context, x *Exec) (any, error) {
		return Step(ctx, x, "load_and_chunk", func(context.Context) (int, error) {
			calls.Add(1)
			return 0, domain.ErrExtraction
		})
	})

	id, err := e.Trigger(context.Background(), domrun.KindIngest, echoInput{})
	require.NoError(t, err)

	r := waitTerminal(t, e, id)
	assert.Equal(t, domrun.StatusFailed, r.Status)
	assert.Equal(t, domain.KindExtraction, r.Error.Kind)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, r.Partial)
}

func TestEngine_CancelPendingRun(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	var secondCalls atomic.Int32
	e.Register(domrun.KindIngest, func(ctx context.Context, x *Exec) (any, error) {
		return Step(ctx, x, "block", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	})
	e.Register(domrun.KindQuery, func(ctx context.Context, x *Exec) (any, error) {
		return Step(ctx, x, "never", func(context.Context) (int, error) {
			secondCalls.Add(1)
			return 1, nil
		})
	})

	first, err := e.Trigger(context.Background(), domrun.KindIngest, echoInput{})
	require.NoError(t, err)
	<-started

	// the single worker is busy, so this one stays pending
	second := make(chan string, 1)
	go func() {
		id, err := e.Trigger(context.Background(), domrun.KindQuery, echoInput{})
		if err == nil {
			second <- id
		}
	}()

	var secondID string
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for id := range store.runs {
			if id != first {
				secondID = id
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)

	r, err := e.Cancel(context.Background(), secondID)
	require.NoError(t, err)
	assert.Equal(t, domrun.StatusPending, r.Status)

	close(release)
	assert.Equal(t, secondID, <-second)

	assert.Equal(t, domrun.StatusSucceeded, waitTerminal(t, e, first).Status)
	cancelled := waitTerminal(t, e, secondID)
	assert.Equal(t, domrun.StatusCancelled, cancelled.Status)
	assert.Equal(t, int32(0), secondCalls.Load())
}

func TestEngine_CancelStopsAtNextStep(t *testing.T) {
	e := newTestEngine(t, newMemStore(), 1)

	inStep := make(chan struct{})
	proceed := make(chan struct{})
	var secondStep atomic.Bool
	e.Register(domrun.KindIngest, func(ctx context.Context, x *Exec) (any, error) {
		if _, err := Step(ctx, x, "load_and_chunk", func(context.Context) (int, error) {
			close(inStep)
			<-proceed
			return 3, nil
		}); err != nil {
			return nil, err
		}
		return Step(ctx, x, "upsert", func(context.Context) (int, error) {
			secondStep.Store(true)
			return 3, nil
		})
	})

	id, err := e.Trigger(context.Background(), domrun.KindIngest, echoInput{})
	require.NoError(t, err)
	<-inStep

	_, err = e.Cancel(context.Background(), id)
	require.NoError(t, err)
	close(proceed)

	r := waitTerminal(t, e, id)
	assert.Equal(t, domrun.StatusCancelled, r.Status)
	assert.False(t, secondStep.Load())
	assert.Contains(t, r.Steps, "load_and_chunk", "in-flight step completes and is recorded")
}

func TestEngine_CancelTerminalRun(t *testing.T) {
	e := newTestEngine(t, newMemStore(), 1)
	e.Register(domrun.KindIngest, echoHandler)

	id, err := e.Trigger(context.Background(), domrun.KindIngest, echoInput{Text: "x"})
	require.NoError(t, err)
	waitTerminal(t, e, id)

	r, err := e.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrRunTerminal)
	assert.Equal(t, domrun.StatusSucceeded, r.Status)
}

func TestEngine_StatusNotFound(t *testing.T) {
	e := newTestEngine(t, newMemStore(), 1)

	_, err := e.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestEngine_PanicFailsRun(t *testing.T) {
	e := newTestEngine(t, newMemStore(), 1)
	e.Register(domrun.KindIngest, func(context.Context, *Exec) (any, error) {
		panic("boom")
	})

	id, err := e.Trigger(context.Background(), domrun.KindIngest, echoInput{})
	require.NoError(t, err)

	r := waitTerminal(t, e, id)
	assert.Equal(t, domrun.StatusFailed, r.Status)
	assert.Equal(t, domain.KindInternal, r.Error.Kind)
}

func TestStep_ReplaysMemoizedOutput(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store, 1)

	r, err := domrun.New("r1", domrun.KindIngest, echoInput{Text: "hi"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, r.RecordStep("shout", "memoized", time.Now()))

	x := &Exec{engine: e, run: &r, logger: zap.NewNop()}
	calls := 0
	out, err := Step(context.Background(), x, "shout", func(context.Context) (string, error) {
		calls++
		return "fresh", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "memoized", out)
	assert.Equal(t, 0, calls)
}

func TestStep_RecordsAndPersistsOutput(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store, 1)

	r, err := domrun.New("r1", domrun.KindIngest, echoInput{}, time.Now())
	require.NoError(t, err)
	x := &Exec{engine: e, run: &r, logger: zap.NewNop()}

	_, err = Step(context.Background(), x, "count", func(context.Context) (map[string]int, error) {
		return map[string]int{"ingested": 2}, nil
	})
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), "r1")
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(stored.Steps["count"], &got))
	assert.Equal(t, 2, got["ingested"])
}

func TestStep_WithRetryOverridesPolicy(t *testing.T) {
	e := newTestEngine(t, newMemStore(), 1)
	r, err := domrun.New("r1", domrun.KindIngest, echoInput{}, time.Now())
	require.NoError(t, err)
	x := &Exec{engine: e, run: &r, logger: zap.NewNop()}

	calls := 0
	_, err = Step(context.Background(), x, "once", func(context.Context) (int, error) {
		calls++
		return 0, domain.ErrVectorStore
	}, WithRetry(fastRetry(1)))

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "once", se.Step)
	assert.ErrorIs(t, err, domain.ErrVectorStore)
	assert.Equal(t, 1, calls)
}

func TestEngine_TriggerAfterShutdown(t *testing.T) {
	e, err := New(newMemStore(), Config{PoolSize: 1, Retry: fastRetry(1)}, zap.NewNop())
	require.NoError(t, err)
	e.Register(domrun.KindIngest, echoHandler)
	require.NoError(t, e.Shutdown(context.Background()))

	_, err = e.Trigger(context.Background(), domrun.KindIngest, echoInput{})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	_, err := New(newMemStore(), Config{Retry: RetryPolicy{}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
