package domain

import (
	"context"
	"fmt"
)

// BatchEmbedder vectorizes multiple texts in a single API call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// EmbedBatch embeds texts and enforces the 1:1 positional contract:
// exactly len(texts) vectors, each of dimension dim (skipped when dim <= 0).
func EmbedBatch(ctx context.Context, e BatchEmbedder, texts []string, dim int) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	res, err := e.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("batch embed %d texts: %w", len(texts), err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("requested %d, got %d: %w", len(texts), len(res.Embeddings), ErrEmbeddingShape)
	}
	if dim > 0 {
		for i, v := range res.Embeddings {
			if len(v) != dim {
				return nil, fmt.Errorf("embedding[%d] has %d components, want %d: %w",
					i, len(v), dim, ErrVectorDimMismatch)
			}
		}
	}
	return res.Embeddings, nil
}
