package ingest

import (
	"context"

	"github.com/kailas-cloud/ragflow/internal/domain/point"
)

// Extractor turns a document into ordered page texts.
type Extractor interface {
	Pages(ctx context.Context, path string) ([]string, error)
}

// Splitter chunks page texts.
type Splitter interface {
	Split(pages []string) ([]string, error)
}

// VectorStore persists chunk points.
type VectorStore interface {
	Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []point.Payload) error
}

// ChunkCounter remembers how many chunks the last ingestion of a source produced.
type ChunkCounter interface {
	ChunkCount(ctx context.Context, sourceID string) (int, bool, error)
	SetChunkCount(ctx context.Context, sourceID string, n int) error
}
