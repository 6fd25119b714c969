package query

import (
	"context"

	"github.com/kailas-cloud/ragflow/internal/domain/rag"
)

// VectorSearcher retrieves ranked chunk texts and their sources.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int) (rag.SearchResult, error)
}
