package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals a malformed request or pipeline input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrExtraction signals an unreadable or unsupported document.
	ErrExtraction = errors.New("extraction error")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrEmbeddingShape signals a response whose vector count disagrees with the request.
	ErrEmbeddingShape = fmt.Errorf("embedding count mismatch: %w", ErrEmbeddingProviderError)
	// ErrVectorStore signals a vector index failure (connectivity, partial write).
	ErrVectorStore = errors.New("vector store error")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = fmt.Errorf("vector dimension mismatch: %w", ErrVectorStore)
	// ErrInference signals a language-model call failure or malformed response.
	ErrInference = errors.New("inference error")
	// ErrTimedOut signals that a poller exceeded its budget; the run may still finish.
	ErrTimedOut = errors.New("timed out waiting for run")
	// ErrRunNotFound signals an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunTerminal signals an operation on a run that already reached a terminal state.
	ErrRunTerminal = errors.New("run already terminal")
	// ErrCancelled signals a run stopped at a step boundary by a cancel request.
	ErrCancelled = errors.New("run cancelled")
	// ErrUnavailable signals that the run scheduler is full or shutting down.
	ErrUnavailable = errors.New("run scheduler unavailable")
)

// Error kind labels surfaced to callers in failed runs.
const (
	KindExtraction   = "ExtractionError"
	KindEmbedding    = "EmbeddingServiceError"
	KindVectorStore  = "VectorStoreError"
	KindInference    = "InferenceError"
	KindInvalidInput = "InvalidInput"
	KindTimedOut     = "TimedOut"
	KindCancelled    = "Cancelled"
	KindInternal     = "InternalError"
)

// ErrorKind maps an error onto its taxonomy label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExtraction):
		return KindExtraction
	case errors.Is(err, ErrEmbeddingProviderError):
		return KindEmbedding
	case errors.Is(err, ErrVectorStore):
		return KindVectorStore
	case errors.Is(err, ErrInference):
		return KindInference
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrTimedOut):
		return KindTimedOut
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// IsRetryable reports whether a step failing with err may be re-executed.
// Permanent kinds are checked before their retryable parents.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrVectorDimMismatch),
		errors.Is(err, ErrEmbeddingShape),
		errors.Is(err, ErrExtraction),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
