package query

import (
	"context"
	"sync"

	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/domain/point"
)

const testDim = 3

// staticIndex implements vectorstore.Index and answers every query with hits.
type staticIndex struct {
	hits []point.Scored
	err  error
}

func (s *staticIndex) CollectionInfo(context.Context, string) (bool, int, error) {
	return true, testDim, nil
}

func (s *staticIndex) CreateCollection(context.Context, string, int) error { return nil }

func (s *staticIndex) UpsertPoints(context.Context, string, []point.Point) error { return nil }

func (s *staticIndex) QueryPoints(_ context.Context, _ string, _ []float32, limit int) ([]point.Scored, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > limit {
		return s.hits[:limit], nil
	}
	return s.hits, nil
}

type fixedEmbedder struct {
	vec   []float32
	err   error
	mu    sync.Mutex
	calls int
}

func (f *fixedEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return domain.BatchEmbeddingResult{}, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

type fakeChat struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	lastReq domain.ChatRequest
}

func (f *fakeChat) Complete(_ context.Context, req domain.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	return f.answer, f.err
}
