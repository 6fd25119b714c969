package point

import "github.com/kailas-cloud/ragflow/internal/db"

// buildIndex defines the HNSW cosine index over a collection's point hashes.
// source_id is indexed as a TAG for provenance filtering from redis-cli.
func buildIndex(name string, dim int, hnsw HNSWConfig) (*db.IndexDefinition, error) {
	return db.NewIndex(indexName(name)).
		Prefix(collectionPrefix(name)).
		Tag(fieldSourceID).
		VectorHNSW(fieldVector, vectorAlias, dim, db.DistanceCosine, hnsw.M, hnsw.EFConstruct).
		Build()
}
