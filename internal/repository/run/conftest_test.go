package run

import (
	"context"
	"time"

	"github.com/kailas-cloud/ragflow/internal/db"
)

// mockStore is an in-memory KV implementing the consumer interface.
type mockStore struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	pingErr error
	getErr  error
	setErr  error
}

func newMockStore() *mockStore {
	return &mockStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockStore) Ping(_ context.Context) error { return m.pingErr }

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) Set(_ context.Context, key string, value []byte) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	delete(m.ttls, key)
	return nil
}

func (m *mockStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}
