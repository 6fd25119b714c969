package embcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/db"
	"github.com/kailas-cloud/ragflow/internal/domain"
)

func TestBatchEmbed_AllMisses(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1, 0.2}, tokens: 5}
	ce, ms := newTestCachedEmbedder(t, inner)

	var stored []db.KVItem
	var storedTTL time.Duration
	ms.setMultiFn = func(_ context.Context, items []db.KVItem, ttl time.Duration) error {
		stored = items
		storedTTL = ttl
		return nil
	}

	res, err := ce.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if len(stored) != 2 {
		t.Errorf("expected 2 cache puts, got %d", len(stored))
	}
	if storedTTL != time.Hour {
		t.Errorf("expected ttl 1h, got %v", storedTTL)
	}
	if inner.batchCalls != 1 {
		t.Errorf("expected 1 batch call to inner, got %d", inner.batchCalls)
	}
	if res.TotalTokens != 10 {
		t.Errorf("expected TotalTokens=10, got %d", res.TotalTokens)
	}
}

func TestBatchEmbed_AllHits(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1}}
	ce, ms := newTestCachedEmbedder(t, inner)

	cached := vectorToCacheBytes([]float32{0.9, 0.8})
	ms.mgetFn = func(_ context.Context, keys []string) ([][]byte, error) {
		out := make([][]byte, len(keys))
		for i := range out {
			out[i] = cached
		}
		return out, nil
	}
	ms.setMultiFn = func(_ context.Context, _ []db.KVItem, _ time.Duration) error {
		t.Error("nothing should be written on all hits")
		return nil
	}

	res, err := ce.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 || res.Embeddings[1][0] != 0.9 {
		t.Fatalf("expected cached embeddings, got %v", res.Embeddings)
	}
	if res.TotalTokens != 0 {
		t.Errorf("expected TotalTokens=0 on all hits, got %d", res.TotalTokens)
	}
	if inner.batchCalls != 0 {
		t.Errorf("expected 0 batch calls (all cache hits), got %d", inner.batchCalls)
	}
}

func TestBatchEmbed_MixedHitsMisses(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.5}, tokens: 3}
	ce, ms := newTestCachedEmbedder(t, inner)

	ms.mgetFn = func(_ context.Context, keys []string) ([][]byte, error) {
		out := make([][]byte, len(keys))
		out[1] = vectorToCacheBytes([]float32{0.9})
		return out, nil
	}

	res, err := ce.BatchEmbed(context.Background(), []string{"miss1", "hit1", "miss2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(res.Embeddings))
	}
	if res.Embeddings[1][0] != 0.9 {
		t.Errorf("expected cached vec for index 1, got %v", res.Embeddings[1])
	}
	if res.Embeddings[0][0] != 0.5 || res.Embeddings[2][0] != 0.5 {
		t.Errorf("expected inner vec for misses, got %v, %v", res.Embeddings[0], res.Embeddings[2])
	}
	if strings.Join(inner.lastTexts, ",") != "miss1,miss2" {
		t.Errorf("inner should embed misses only, got %v", inner.lastTexts)
	}
	if res.TotalTokens != 6 {
		t.Errorf("expected TotalTokens=6 (2 misses * 3), got %d", res.TotalTokens)
	}
}

func TestBatchEmbed_StoreErrorsDegradeToMiss(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.5}}
	ce, ms := newTestCachedEmbedder(t, inner)

	ms.mgetFn = func(_ context.Context, _ []string) ([][]byte, error) {
		return nil, errors.New("connection refused")
	}
	ms.setMultiFn = func(_ context.Context, _ []db.KVItem, _ time.Duration) error {
		return errors.New("connection refused")
	}

	res, err := ce.BatchEmbed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("cache failures must not fail the call: %v", err)
	}
	if len(res.Embeddings) != 1 || inner.batchCalls != 1 {
		t.Errorf("expected inner embed on cache failure")
	}
}

func TestBatchEmbed_CorruptEntryIsMiss(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.5}}
	ce, ms := newTestCachedEmbedder(t, inner)

	ms.mgetFn = func(_ context.Context, _ []string) ([][]byte, error) {
		return [][]byte{{1, 2, 3}}, nil
	}

	res, err := ce.BatchEmbed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Embeddings[0][0] != 0.5 {
		t.Errorf("expected re-embedded vector, got %v", res.Embeddings[0])
	}
}

func TestBatchEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{batchErr: domain.ErrEmbeddingProviderError}
	ce, _ := newTestCachedEmbedder(t, inner)

	_, err := ce.BatchEmbed(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestBatchEmbed_InnerShapeMismatch(t *testing.T) {
	inner := &mockEmbedder{batchResult: &domain.BatchEmbeddingResult{Embeddings: [][]float32{{0.1}}}}
	ce, _ := newTestCachedEmbedder(t, inner)

	_, err := ce.BatchEmbed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbeddingShape) {
		t.Fatalf("expected ErrEmbeddingShape, got %v", err)
	}
}

func TestBatchEmbed_Empty(t *testing.T) {
	inner := &mockEmbedder{}
	ce, _ := newTestCachedEmbedder(t, inner)

	res, err := ce.BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Embeddings != nil {
		t.Errorf("expected nil for empty input")
	}
}

func TestBatchEmbed_CountsHitsAndMisses(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	ms := &mockKVStore{mgetFn: func(_ context.Context, keys []string) ([][]byte, error) {
		out := make([][]byte, len(keys))
		out[0] = vectorToCacheBytes([]float32{1})
		return out, nil
	}}
	ce := New(&mockEmbedder{vec: []float32{2}}, ms, "m", 0, counter, zap.NewNop())

	if _, err := ce.BatchEmbed(context.Background(), []string{"a", "b", "c"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 1 {
		t.Errorf("hits = %v, expected 1", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 2 {
		t.Errorf("misses = %v, expected 2", got)
	}
}

func TestCacheKey_DependsOnModel(t *testing.T) {
	a := New(nil, nil, "model-a", 0, nil, zap.NewNop())
	b := New(nil, nil, "model-b", 0, nil, zap.NewNop())

	if a.cacheKey("text") == b.cacheKey("text") {
		t.Error("cache keys must differ across models")
	}
	if !strings.HasPrefix(a.cacheKey("text"), "ragflow:emb_cache:") {
		t.Errorf("unexpected key prefix: %s", a.cacheKey("text"))
	}
	if a.cacheKey("text") != a.cacheKey("text") {
		t.Error("cache key must be deterministic")
	}
}
