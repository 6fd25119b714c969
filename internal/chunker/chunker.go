// Package chunker splits page text into overlapping windows for embedding.
package chunker

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/kailas-cloud/ragflow/internal/domain"
)

// Default window parameters.
const (
	DefaultChunkSize    = 1024
	DefaultChunkOverlap = 80
)

// Chunker wraps a recursive character splitter.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// New creates a Chunker. size must be positive and overlap in [0, size).
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d: %w", size, domain.ErrInvalidInput)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d: %w", size, overlap, domain.ErrInvalidInput)
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

// Split chunks every page in order. Blank pages are skipped and only
// non-blank chunks are returned.
func (c *Chunker) Split(pages []string) ([]string, error) {
	chunks := make([]string, 0, len(pages))
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		parts, err := c.splitter.SplitText(page)
		if err != nil {
			return nil, fmt.Errorf("split page %d: %w", i, err)
		}
		for _, p := range parts {
			if strings.TrimSpace(p) != "" {
				chunks = append(chunks, p)
			}
		}
	}
	return chunks, nil
}
