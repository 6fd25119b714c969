// Package rag holds the step inputs and outputs exchanged by the ingestion
// and query pipelines. Every value here is JSON-serializable so a step result
// can be memoized in the run store and replayed on retry.
package rag

import (
	"fmt"

	"github.com/kailas-cloud/ragflow/internal/domain"
)

// Query option bounds.
const (
	DefaultTopK        = 5
	MaxTopK            = 100
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1024
	MaxMaxTokens       = 16384
)

// IngestEvent triggers the ingestion pipeline.
type IngestEvent struct {
	PDFPath  string `json:"pdf_path" validate:"required"`
	SourceID string `json:"source_id,omitempty"`
}

// QueryEvent triggers the query pipeline.
type QueryEvent struct {
	Question string `json:"question" validate:"required"`
	TopK     *int   `json:"top_k,omitempty" validate:"omitempty,min=1,max=100"`
}

// Chunks is the output of the load_and_chunk step.
type Chunks struct {
	Chunks   []string `json:"chunks"`
	SourceID string   `json:"source_id"`
}

// UpsertResult is the output of the upsert step and of the ingestion run.
type UpsertResult struct {
	Ingested int `json:"ingested"`
}

// SearchResult is the output of the search step.
type SearchResult struct {
	Context []string `json:"context"`
	Sources []string `json:"sources"`
}

// QueryResult is the output of the query run.
type QueryResult struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	NumContext int      `json:"num_context"`
}

// QueryPartial is what a failed query run still reports when search completed.
type QueryPartial struct {
	Sources    []string `json:"sources"`
	NumContext int      `json:"num_context"`
}

// QueryOptions is the validated, immutable per-query configuration.
type QueryOptions struct {
	topK        int
	temperature float32
	maxTokens   int
}

// NewQueryOptions validates and builds query options.
func NewQueryOptions(topK int, temperature float32, maxTokens int) (QueryOptions, error) {
	if topK < 1 || topK > MaxTopK {
		return QueryOptions{}, fmt.Errorf("top_k must be in [1, %d], got %d: %w", MaxTopK, topK, domain.ErrInvalidInput)
	}
	if temperature < 0 || temperature > 2 {
		return QueryOptions{}, fmt.Errorf("temperature must be in [0, 2], got %g: %w", temperature, domain.ErrInvalidInput)
	}
	if maxTokens < 1 || maxTokens > MaxMaxTokens {
		return QueryOptions{}, fmt.Errorf("max_tokens must be in [1, %d], got %d: %w",
			MaxMaxTokens, maxTokens, domain.ErrInvalidInput)
	}
	return QueryOptions{topK: topK, temperature: temperature, maxTokens: maxTokens}, nil
}

// DefaultQueryOptions returns top_k=5, temperature=0.2, max_tokens=1024.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{topK: DefaultTopK, temperature: DefaultTemperature, maxTokens: DefaultMaxTokens}
}

// WithTopK returns a copy with topK overridden, validated against the same bounds.
func (o QueryOptions) WithTopK(topK int) (QueryOptions, error) {
	return NewQueryOptions(topK, o.temperature, o.maxTokens)
}

// TopK returns the number of points to retrieve.
func (o QueryOptions) TopK() int { return o.topK }

// Temperature returns the sampling temperature.
func (o QueryOptions) Temperature() float32 { return o.temperature }

// MaxTokens returns the completion length bound.
func (o QueryOptions) MaxTokens() int { return o.maxTokens }
