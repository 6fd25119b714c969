package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
)

// memStore keeps JSON copies so the engine never shares memory with readers.
type memStore struct {
	mu      sync.Mutex
	runs    map[string][]byte
	cancels map[string]bool
	saves   int
}

func newMemStore() *memStore {
	return &memStore{runs: map[string][]byte{}, cancels: map[string]bool{}}
}

func (m *memStore) Save(_ context.Context, r *domrun.Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = data
	m.saves++
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*domrun.Run, error) {
	m.mu.Lock()
	data, ok := m.runs[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrRunNotFound)
	}
	var r domrun.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (m *memStore) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[id] = true
	return nil
}

func (m *memStore) CancelRequested(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels[id], nil
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func newTestEngine(t *testing.T, store RunStore, poolSize int) *Engine {
	t.Helper()
	e, err := New(store, Config{PoolSize: poolSize, Retry: fastRetry(3)}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

// waitTerminal polls the store until the run reaches a terminal status.
func waitTerminal(t *testing.T, e *Engine, id string) *domrun.Run {
	t.Helper()
	var r *domrun.Run
	require.Eventually(t, func() bool {
		got, err := e.Status(context.Background(), id)
		if err != nil {
			return false
		}
		r = got
		return got.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return r
}
