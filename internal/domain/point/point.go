// Package point models the persisted unit of the vector index.
package point

import (
	"strconv"

	"github.com/google/uuid"
)

// Payload is the metadata stored alongside a vector.
type Payload struct {
	Text     string `json:"text,omitempty"`
	SourceID string `json:"source_id,omitempty"`
}

// Point is a vector with its deterministic id and payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Scored is a point returned by a similarity query. Score is cosine similarity.
type Scored struct {
	ID      string
	Score   float64
	Payload Payload
}

// ID derives the stable identity of chunk ordinal within sourceID.
// UUIDv5 over the URL namespace of "<source_id>:<ordinal>".
func ID(sourceID string, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceID+":"+strconv.Itoa(ordinal))).String()
}

// IDs returns the ids for ordinals 0..n-1 of sourceID.
func IDs(sourceID string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = ID(sourceID, i)
	}
	return ids
}
