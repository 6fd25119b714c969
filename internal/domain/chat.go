package domain

import "context"

// Chat message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatMessage is one turn of a chat completion prompt.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is a single-shot chat completion request.
type ChatRequest struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Messages    []ChatMessage
}

// ChatModel produces the text of the first completion choice.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}
