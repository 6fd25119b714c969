package vectorstore

import (
	"context"

	"github.com/kailas-cloud/ragflow/internal/domain/point"
)

// Index is the backend contract: a named collection of fixed-dimension
// points compared by cosine similarity.
type Index interface {
	CollectionInfo(ctx context.Context, name string) (exists bool, dim int, err error)
	CreateCollection(ctx context.Context, name string, dim int) error
	UpsertPoints(ctx context.Context, name string, points []point.Point) error
	QueryPoints(ctx context.Context, name string, vector []float32, limit int) ([]point.Scored, error)
}
