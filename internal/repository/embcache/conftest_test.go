package embcache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/db"
	"github.com/kailas-cloud/ragflow/internal/domain"
)

// mockEmbedder returns vec for every input unless batchResult is set.
type mockEmbedder struct {
	vec         []float32
	tokens      int
	batchResult *domain.BatchEmbeddingResult
	batchErr    error
	batchCalls  int
	lastTexts   []string
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	m.lastTexts = texts
	if m.batchErr != nil {
		return domain.BatchEmbeddingResult{}, m.batchErr
	}
	if m.batchResult != nil {
		return *m.batchResult, nil
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = m.vec
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: m.tokens * len(texts),
		TotalTokens:  m.tokens * len(texts),
	}, nil
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	mgetFn     func(ctx context.Context, keys []string) ([][]byte, error)
	setMultiFn func(ctx context.Context, items []db.KVItem, ttl time.Duration) error
}

func (m *mockKVStore) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if m.mgetFn != nil {
		return m.mgetFn(ctx, keys)
	}
	return make([][]byte, len(keys)), nil
}

func (m *mockKVStore) SetMulti(ctx context.Context, items []db.KVItem, ttl time.Duration) error {
	if m.setMultiFn != nil {
		return m.setMultiFn(ctx, items, ttl)
	}
	return nil
}

func newTestCachedEmbedder(t *testing.T, inner *mockEmbedder) (*CachedEmbedder, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	ce := New(inner, ms, "test-model", time.Hour, nil, zap.NewNop())
	return ce, ms
}
