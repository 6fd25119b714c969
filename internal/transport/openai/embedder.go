package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/metrics"
)

// DefaultMaxBatchSize bounds the number of inputs sent in one embeddings call.
const DefaultMaxBatchSize = 256

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client       *openai.Client
	model        openai.EmbeddingModel
	dimensions   int
	maxBatchSize int
	user         string
	provider     string
	logger       *zap.Logger
}

// Config holds the provider settings shared by the embedder and the chat model.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Dimensions   int
	MaxBatchSize int
	User         string
	Provider     string
	Logger       *zap.Logger
}

func newClient(cfg *Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		client:       newClient(cfg),
		model:        openai.EmbeddingModel(cfg.Model),
		dimensions:   cfg.Dimensions,
		maxBatchSize: maxBatch,
		user:         cfg.User,
		provider:     cfg.Provider,
		logger:       logger,
	}
}

// BatchEmbed implements domain.BatchEmbedder. Inputs above the max batch size
// are sent as consecutive calls; vectors come back in input order.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}
	for start := 0; start < len(texts); start += e.maxBatchSize {
		end := min(start+e.maxBatchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch [%d:%d]: %w", start, end, err)
		}
		out.Embeddings = append(out.Embeddings, batch.Embeddings...)
		out.PromptTokens += batch.PromptTokens
		out.TotalTokens += batch.TotalTokens
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	model := string(e.model)
	start := time.Now()

	resp, err := e.client.CreateEmbeddings(ctx, req)

	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "api_error").Inc()
		return domain.BatchEmbeddingResult{}, parseAPIError("embedding", err, domain.ErrEmbeddingProviderError)
	}

	vectors, err := orderByIndex(resp.Data, len(texts))
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "shape_mismatch").Inc()
		return domain.BatchEmbeddingResult{}, err
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, model).Observe(duration.Seconds())

	totalTokens := resp.Usage.TotalTokens
	promptTokens := resp.Usage.PromptTokens
	if totalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "prompt").Add(float64(promptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "total").Add(float64(totalTokens))
	}

	e.logger.Debug("Embedded batch",
		zap.Int("inputs", len(texts)),
		zap.Int("total_tokens", totalTokens),
		zap.Duration("duration", duration),
	)

	return domain.BatchEmbeddingResult{
		Embeddings:   vectors,
		PromptTokens: promptTokens,
		TotalTokens:  totalTokens,
	}, nil
}

// orderByIndex places every returned vector at its provider-reported index.
// Missing, duplicate or out-of-range indexes are a shape error.
func orderByIndex(data []openai.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, fmt.Errorf("requested %d embeddings, got %d: %w", want, len(data), domain.ErrEmbeddingShape)
	}
	out := make([][]float32, want)
	for _, d := range data {
		if d.Index < 0 || d.Index >= want {
			return nil, fmt.Errorf("embedding index %d out of range [0, %d): %w", d.Index, want, domain.ErrEmbeddingShape)
		}
		if out[d.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d: %w", d.Index, domain.ErrEmbeddingShape)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return string(e.model) }

// parseAPIError extracts a human-readable error from the API response and
// wraps it with the sentinel of the calling capability.
func parseAPIError(capability string, err error, wrap error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s request: %w: %w", capability, err, wrap)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%s API error %d: %s: %w",
			capability, reqErr.HTTPStatusCode, detail, wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w",
			capability, apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("%s request failed: %v: %w", capability, err, wrap)
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
