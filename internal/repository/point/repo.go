// Package point stores chunk points in Redis/Valkey hashes indexed by an
// FT HNSW cosine index, one index per collection.
package point

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/ragflow/internal/db"
	"github.com/kailas-cloud/ragflow/internal/domain"
	dompoint "github.com/kailas-cloud/ragflow/internal/domain/point"
)

// store is the consumer interface for points (ISP).
type store interface {
	Ping(ctx context.Context) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo implements vectorstore.Index on top of a Redis-compatible store.
type Repo struct {
	store store
	hnsw  HNSWConfig
}

// New creates a point repository.
func New(s store) *Repo {
	return &Repo{store: s, hnsw: HNSWConfig{M: 16, EFConstruct: 200}}
}

// WithHNSW configures HNSW index parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// Ping checks store connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// CollectionInfo reads the collection metadata hash. A collection whose
// metadata exists but whose index is gone is reported as absent.
func (r *Repo) CollectionInfo(ctx context.Context, name string) (bool, int, error) {
	m, err := r.store.HGetAll(ctx, metaKey(name))
	if err != nil {
		return false, 0, fmt.Errorf("hgetall collection %s: %w", name, err)
	}
	if len(m) == 0 {
		return false, 0, nil
	}

	exists, err := r.store.IndexExists(ctx, indexName(name))
	if err != nil {
		return false, 0, fmt.Errorf("index info %s: %w", name, err)
	}
	if !exists {
		return false, 0, nil
	}

	dim, err := strconv.Atoi(m["vector_dim"])
	if err != nil {
		return false, 0, fmt.Errorf("invalid vector_dim %q for collection %s: %w", m["vector_dim"], name, err)
	}
	return true, dim, nil
}

// CreateCollection stores metadata via HSET then creates the FT index.
// A concurrent creator winning the FT.CREATE race is not an error.
// On any other FT.CREATE failure the HSET is rolled back.
func (r *Repo) CreateCollection(ctx context.Context, name string, dim int) error {
	def, err := buildIndex(name, dim, r.hnsw)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	meta := map[string]string{
		"name":       name,
		"vector_dim": strconv.Itoa(dim),
		"distance":   string(db.DistanceCosine),
		"created_at": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if err := r.store.HSet(ctx, metaKey(name), meta); err != nil {
		return fmt.Errorf("hset collection %s: %w", name, err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		cleanupErr := r.store.Del(ctx, metaKey(name))
		return errors.Join(err, cleanupErr)
	}
	return nil
}

// UpsertPoints writes every point as one HSET (all fields at once) in a
// single pipelined round-trip. Any failed write fails the call.
func (r *Repo) UpsertPoints(ctx context.Context, name string, points []dompoint.Point) error {
	if len(points) == 0 {
		return nil
	}
	items := make([]db.HashSetItem, len(points))
	for i := range points {
		items[i] = db.HashSetItem{
			Key:    pointKey(name, points[i].ID),
			Fields: pointToHash(&points[i]),
		}
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), name, err)
	}
	return nil
}

// QueryPoints runs a KNN search and returns hits with their payloads.
func (r *Repo) QueryPoints(
	ctx context.Context, name string, vector []float32, limit int,
) ([]dompoint.Scored, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(name),
		VectorField:  vectorAlias,
		Vector:       vector,
		K:            limit,
		ReturnFields: []string{fieldText, fieldSourceID, "__vector_score"},
	})
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", name, err)
	}
	if sr == nil {
		return []dompoint.Scored{}, nil
	}

	prefix := collectionPrefix(name)
	out := make([]dompoint.Scored, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		out = append(out, dompoint.Scored{
			ID:      strings.TrimPrefix(e.Key, prefix),
			Score:   e.Score,
			Payload: payloadFromHash(e.Fields),
		})
	}
	return out, nil
}

func metaKey(name string) string {
	return fmt.Sprintf("%scollection:%s", domain.KeyPrefix, name)
}

func indexName(name string) string {
	return fmt.Sprintf("%s%s:idx", domain.KeyPrefix, name)
}

func collectionPrefix(name string) string {
	return fmt.Sprintf("%s%s:", domain.KeyPrefix, name)
}

func pointKey(name, id string) string {
	return collectionPrefix(name) + id
}
