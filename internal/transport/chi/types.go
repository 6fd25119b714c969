package chi

import "encoding/json"

// ErrorCode is the machine-readable error code in ErrorResponse.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeUnauthorized     ErrorCode = "unauthorized"
	CodeValidationFailed ErrorCode = "validation_failed"
	CodeRunNotFound      ErrorCode = "run_not_found"
	CodeRunTerminal      ErrorCode = "run_terminal"
	CodeUnavailable      ErrorCode = "unavailable"
	CodeInternalError    ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// TriggerResponse acknowledges an accepted event.
type TriggerResponse struct {
	RunID string `json:"run_id"`
}

// RunError describes why a run failed.
type RunError struct {
	Kind    string `json:"kind"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// RunResponse is the externally visible state of a run.
type RunResponse struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   *RunError       `json:"error,omitempty"`
	Partial json.RawMessage `json:"partial,omitempty"`
}

// CancelResponse acknowledges a cancel request.
type CancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HealthResponse reports aggregated and per-component health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
