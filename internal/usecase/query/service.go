// Package query implements the question answering pipeline:
// embed_query -> search -> synthesize.
package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/domain/rag"
	"github.com/kailas-cloud/ragflow/internal/logger"
	"github.com/kailas-cloud/ragflow/internal/usecase/workflow"
)

// Step names.
const (
	StepEmbedQuery = "embed_query"
	StepSearch     = "search"
	StepSynthesize = "synthesize"
)

// Service runs the query pipeline.
type Service struct {
	embedder domain.BatchEmbedder
	searcher VectorSearcher
	chat     domain.ChatModel
	model    string
	defaults rag.QueryOptions
	dim      int
}

// New creates the query pipeline. defaults supply top_k, temperature and
// max_tokens when the event does not override them.
func New(
	embedder domain.BatchEmbedder,
	searcher VectorSearcher,
	chat domain.ChatModel,
	model string,
	defaults rag.QueryOptions,
	dim int,
) *Service {
	return &Service{
		embedder: embedder,
		searcher: searcher,
		chat:     chat,
		model:    model,
		defaults: defaults,
		dim:      dim,
	}
}

// Options resolves and validates the options of one query event.
func (s *Service) Options(ev rag.QueryEvent) (rag.QueryOptions, error) {
	if strings.TrimSpace(ev.Question) == "" {
		return rag.QueryOptions{}, fmt.Errorf("question is required: %w", domain.ErrInvalidInput)
	}
	if ev.TopK == nil {
		return s.defaults, nil
	}
	return s.defaults.WithTopK(*ev.TopK)
}

// Handle is the workflow handler for query runs.
func (s *Service) Handle(ctx context.Context, x *workflow.Exec) (any, error) {
	var ev rag.QueryEvent
	if err := x.Input(&ev); err != nil {
		return nil, err
	}
	opts, err := s.Options(ev)
	if err != nil {
		return nil, err
	}

	vector, err := workflow.Step(ctx, x, StepEmbedQuery, func(ctx context.Context) ([]float32, error) {
		return s.EmbedQuery(ctx, ev.Question)
	})
	if err != nil {
		return nil, err
	}

	found, err := workflow.Step(ctx, x, StepSearch, func(ctx context.Context) (rag.SearchResult, error) {
		return s.searcher.Search(ctx, vector, opts.TopK())
	})
	if err != nil {
		return nil, err
	}
	x.SetPartial(rag.QueryPartial{Sources: found.Sources, NumContext: len(found.Context)})

	answer, err := workflow.Step(ctx, x, StepSynthesize, func(ctx context.Context) (string, error) {
		return s.Synthesize(ctx, ev.Question, found.Context, opts)
	})
	if err != nil {
		return nil, err
	}

	return Result(answer, found), nil
}

// Result pairs the answer with the provenance of the context it was built from.
func Result(answer string, found rag.SearchResult) rag.QueryResult {
	sources := found.Sources
	if sources == nil {
		sources = []string{}
	}
	return rag.QueryResult{
		Answer:     answer,
		Sources:    sources,
		NumContext: len(found.Context),
	}
}

// EmbedQuery embeds the question as a single-input batch.
func (s *Service) EmbedQuery(ctx context.Context, question string) ([]float32, error) {
	vectors, err := domain.EmbedBatch(ctx, s.embedder, []string{question}, s.dim)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	return vectors[0], nil
}

// Synthesize asks the chat model for an answer grounded in contexts. An empty
// context still produces a model call.
func (s *Service) Synthesize(
	ctx context.Context,
	question string,
	contexts []string,
	opts rag.QueryOptions,
) (string, error) {
	answer, err := s.chat.Complete(ctx, domain.ChatRequest{
		Model:       s.model,
		MaxTokens:   opts.MaxTokens(),
		Temperature: opts.Temperature(),
		Messages:    BuildMessages(question, contexts),
	})
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}

	logger.FromContext(ctx).Info("Answer synthesized",
		zap.Int("num_context", len(contexts)),
		zap.Int("answer_len", len(answer)),
	)
	return strings.TrimSpace(answer), nil
}
