// Package vectorstore adapts a vector index backend to the pipelines:
// collection bootstrap, validated upserts and ranked similarity search.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/domain/point"
	"github.com/kailas-cloud/ragflow/internal/domain/rag"
)

// Service owns one collection of a fixed vector dimension.
type Service struct {
	index      Index
	collection string
	dim        int

	mu      sync.Mutex
	ensured bool
}

// New creates a Service for collection with vectors of dimension dim.
func New(index Index, collection string, dim int) (*Service, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required: %w", domain.ErrInvalidInput)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d: %w", dim, domain.ErrInvalidInput)
	}
	return &Service{index: index, collection: collection, dim: dim}, nil
}

// Collection returns the collection name.
func (s *Service) Collection() string { return s.collection }

// Dim returns the configured vector dimension.
func (s *Service) Dim() int { return s.dim }

// EnsureCollection creates the collection if absent. It is idempotent and
// fails with ErrVectorDimMismatch when the existing collection disagrees
// on dimension.
func (s *Service) EnsureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	exists, dim, err := s.index.CollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("collection info %s: %w: %w", s.collection, domain.ErrVectorStore, err)
	}
	if !exists {
		if createErr := s.index.CreateCollection(ctx, s.collection, s.dim); createErr != nil {
			// Another process may have created it between the two calls.
			exists, dim, err = s.index.CollectionInfo(ctx, s.collection)
			if err != nil || !exists {
				return fmt.Errorf("create collection %s: %w: %w", s.collection, domain.ErrVectorStore, createErr)
			}
		} else {
			dim = s.dim
		}
	}
	if dim != s.dim {
		return fmt.Errorf("collection %s has dimension %d, configured %d: %w",
			s.collection, dim, s.dim, domain.ErrVectorDimMismatch)
	}

	s.ensured = true
	return nil
}

// Upsert writes one point per (id, vector, payload) triple. Re-upserting
// an id overwrites it. Any partial write fails the whole call.
func (s *Service) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []point.Payload) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return fmt.Errorf("ids=%d vectors=%d payloads=%d must have equal length: %w",
			len(ids), len(vectors), len(payloads), domain.ErrInvalidInput)
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("vector %d (%s) has dimension %d, want %d: %w",
				i, ids[i], len(v), s.dim, domain.ErrVectorDimMismatch)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}

	points := make([]point.Point, len(ids))
	for i := range ids {
		points[i] = point.Point{ID: ids[i], Vector: vectors[i], Payload: payloads[i]}
	}
	if err := s.index.UpsertPoints(ctx, s.collection, points); err != nil {
		return fmt.Errorf("upsert %d points: %w: %w", len(points), domain.ErrVectorStore, err)
	}
	return nil
}

// Search returns the context texts and de-duplicated sources of the topK
// points nearest to vector, best first. Ties are broken by point id.
func (s *Service) Search(ctx context.Context, vector []float32, topK int) (rag.SearchResult, error) {
	if topK < 1 || topK > rag.MaxTopK {
		return rag.SearchResult{}, fmt.Errorf("top_k must be in [1, %d], got %d: %w",
			rag.MaxTopK, topK, domain.ErrInvalidInput)
	}
	if len(vector) != s.dim {
		return rag.SearchResult{}, fmt.Errorf("query vector has dimension %d, want %d: %w",
			len(vector), s.dim, domain.ErrVectorDimMismatch)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return rag.SearchResult{}, err
	}

	hits, err := s.index.QueryPoints(ctx, s.collection, vector, topK)
	if err != nil {
		return rag.SearchResult{}, fmt.Errorf("query points: %w: %w", domain.ErrVectorStore, err)
	}
	return Collect(hits, topK), nil
}

// Collect ranks hits and folds them into a SearchResult. A hit without
// text contributes nothing; a hit without source contributes only text.
func Collect(hits []point.Scored, topK int) rag.SearchResult {
	ranked := make([]point.Scored, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	res := rag.SearchResult{Context: []string{}, Sources: []string{}}
	seen := make(map[string]struct{}, len(ranked))
	for _, h := range ranked {
		if h.Payload.Text == "" {
			continue
		}
		res.Context = append(res.Context, h.Payload.Text)
		src := h.Payload.SourceID
		if src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		res.Sources = append(res.Sources, src)
	}
	return res
}
