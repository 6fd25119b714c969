package ingest

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/domain/point"
)

const testDim = 4

type fakeExtractor struct {
	pages []string
	err   error
	calls int
}

func (f *fakeExtractor) Pages(_ context.Context, _ string) ([]string, error) {
	f.calls++
	return f.pages, f.err
}

// pageSplitter turns every page into one chunk, so chunk counts are exact.
type pageSplitter struct{}

func (pageSplitter) Split(pages []string) ([]string, error) {
	var out []string
	for _, p := range pages {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// hashEmbedder derives a deterministic vector from each text.
type hashEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (h *hashEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.err != nil {
		return domain.BatchEmbeddingResult{}, h.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		f := fnv.New32a()
		_, _ = f.Write([]byte(t))
		sum := f.Sum32()
		out[i] = []float32{float32(sum & 0xff), float32(sum >> 8 & 0xff), float32(sum >> 16 & 0xff), 1}
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

// memVectorStore records upserts keyed by point id.
type memVectorStore struct {
	mu      sync.Mutex
	points  map[string]point.Payload
	upserts [][]string
	err     error
}

func newMemVectorStore() *memVectorStore {
	return &memVectorStore{points: map[string]point.Payload{}}
}

func (m *memVectorStore) Upsert(_ context.Context, ids []string, _ [][]float32, payloads []point.Payload) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		m.points[id] = payloads[i]
	}
	m.upserts = append(m.upserts, ids)
	return nil
}

type memCounter struct {
	counts map[string]int
}

func (m *memCounter) ChunkCount(_ context.Context, sourceID string) (int, bool, error) {
	n, ok := m.counts[sourceID]
	return n, ok, nil
}

func (m *memCounter) SetChunkCount(_ context.Context, sourceID string, n int) error {
	m.counts[sourceID] = n
	return nil
}
