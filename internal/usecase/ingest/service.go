// Package ingest implements the ingestion pipeline:
// load_and_chunk -> upsert.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/domain/point"
	"github.com/kailas-cloud/ragflow/internal/domain/rag"
	"github.com/kailas-cloud/ragflow/internal/logger"
	"github.com/kailas-cloud/ragflow/internal/usecase/workflow"
)

// Step names.
const (
	StepLoadAndChunk = "load_and_chunk"
	StepUpsert       = "upsert"
)

// Service runs the ingestion pipeline.
type Service struct {
	extractor Extractor
	splitter  Splitter
	embedder  domain.BatchEmbedder
	store     VectorStore
	counts    ChunkCounter
	dim       int
}

// New creates the ingestion pipeline. counts may be nil to disable
// stale-chunk bookkeeping.
func New(
	extractor Extractor,
	splitter Splitter,
	embedder domain.BatchEmbedder,
	store VectorStore,
	counts ChunkCounter,
	dim int,
) *Service {
	return &Service{
		extractor: extractor,
		splitter:  splitter,
		embedder:  embedder,
		store:     store,
		counts:    counts,
		dim:       dim,
	}
}

// Handle is the workflow handler for ingest runs.
func (s *Service) Handle(ctx context.Context, x *workflow.Exec) (any, error) {
	var ev rag.IngestEvent
	if err := x.Input(&ev); err != nil {
		return nil, err
	}

	chunks, err := workflow.Step(ctx, x, StepLoadAndChunk, func(ctx context.Context) (rag.Chunks, error) {
		return s.LoadAndChunk(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	return workflow.Step(ctx, x, StepUpsert, func(ctx context.Context) (rag.UpsertResult, error) {
		return s.EmbedAndUpsert(ctx, chunks)
	})
}

// SourceID returns the caller-supplied source id, or the file name of the
// document when none was given.
func SourceID(ev rag.IngestEvent) string {
	if id := strings.TrimSpace(ev.SourceID); id != "" {
		return id
	}
	return filepath.Base(ev.PDFPath)
}

// LoadAndChunk extracts the document and splits it into ordered chunks.
func (s *Service) LoadAndChunk(ctx context.Context, ev rag.IngestEvent) (rag.Chunks, error) {
	if strings.TrimSpace(ev.PDFPath) == "" {
		return rag.Chunks{}, fmt.Errorf("pdf_path is required: %w", domain.ErrInvalidInput)
	}

	pages, err := s.extractor.Pages(ctx, ev.PDFPath)
	if err != nil {
		return rag.Chunks{}, fmt.Errorf("load %s: %w", ev.PDFPath, err)
	}

	chunks, err := s.splitter.Split(pages)
	if err != nil {
		return rag.Chunks{}, fmt.Errorf("chunk %s: %w", ev.PDFPath, err)
	}
	if chunks == nil {
		chunks = []string{}
	}

	logger.FromContext(ctx).Info("Document chunked",
		zap.String("pdf_path", ev.PDFPath),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
	)
	return rag.Chunks{Chunks: chunks, SourceID: SourceID(ev)}, nil
}

// EmbedAndUpsert embeds every chunk in one batch and upserts them under
// deterministic ids, so re-running the step overwrites instead of duplicating.
func (s *Service) EmbedAndUpsert(ctx context.Context, c rag.Chunks) (rag.UpsertResult, error) {
	log := logger.FromContext(ctx).With(zap.String("source_id", c.SourceID))
	if len(c.Chunks) == 0 {
		log.Warn("Document produced no chunks")
		return rag.UpsertResult{Ingested: 0}, nil
	}

	vectors, err := domain.EmbedBatch(ctx, s.embedder, c.Chunks, s.dim)
	if err != nil {
		return rag.UpsertResult{}, fmt.Errorf("embed chunks: %w", err)
	}

	payloads := make([]point.Payload, len(c.Chunks))
	for i, text := range c.Chunks {
		payloads[i] = point.Payload{Text: text, SourceID: c.SourceID}
	}

	if err := s.store.Upsert(ctx, point.IDs(c.SourceID, len(c.Chunks)), vectors, payloads); err != nil {
		return rag.UpsertResult{}, fmt.Errorf("upsert chunks: %w", err)
	}

	s.trackChunkCount(ctx, log, c.SourceID, len(c.Chunks))
	log.Info("Chunks ingested", zap.Int("ingested", len(c.Chunks)))
	return rag.UpsertResult{Ingested: len(c.Chunks)}, nil
}

// trackChunkCount warns when a re-ingestion leaves higher-ordinal points of
// a previous, longer version behind. Those points are not deleted.
func (s *Service) trackChunkCount(ctx context.Context, log *zap.Logger, sourceID string, n int) {
	if s.counts == nil {
		return
	}
	prev, ok, err := s.counts.ChunkCount(ctx, sourceID)
	if err != nil {
		log.Warn("Failed to read previous chunk count", zap.Error(err))
	} else if ok && prev > n {
		log.Warn("stale_chunks",
			zap.Int("previous_chunks", prev),
			zap.Int("current_chunks", n),
			zap.Int("stale", prev-n),
		)
	}
	if err := s.counts.SetChunkCount(ctx, sourceID, n); err != nil {
		log.Warn("Failed to record chunk count", zap.Error(err))
	}
}
