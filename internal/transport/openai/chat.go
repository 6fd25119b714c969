package openai

import (
	"context"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/metrics"
)

// ChatModel is a chat completion client for the OpenAI-compatible API.
type ChatModel struct {
	client   *openai.Client
	user     string
	provider string
	logger   *zap.Logger
}

// NewChatModel creates a chat completion client. Model, Dimensions and
// MaxBatchSize in cfg are ignored; the model is chosen per request.
func NewChatModel(cfg *Config) *ChatModel {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatModel{
		client:   newClient(cfg),
		user:     cfg.User,
		provider: cfg.Provider,
		logger:   logger,
	}
}

// Complete implements domain.ChatModel and returns the first choice's content.
func (m *ChatModel) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	temperature := req.Temperature
	if temperature == 0 {
		// the client drops a zero temperature as omitempty
		temperature = math.SmallestNonzeroFloat32
	}

	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
		User:        m.user,
	})
	duration := time.Since(start)

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(m.provider, req.Model, "error").Inc()
		return "", parseAPIError("chat completion", err, domain.ErrInference)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues(m.provider, req.Model, "error").Inc()
		return "", fmt.Errorf("chat completion returned no choices: %w", domain.ErrInference)
	}

	metrics.LLMRequestsTotal.WithLabelValues(m.provider, req.Model, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(m.provider, req.Model).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.LLMTokensTotal.WithLabelValues(m.provider, req.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensTotal.WithLabelValues(m.provider, req.Model, "completion").
			Add(float64(resp.Usage.CompletionTokens))
	}

	m.logger.Debug("Chat completion",
		zap.String("model", req.Model),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", duration),
	)

	return resp.Choices[0].Message.Content, nil
}
