package client

import (
	"encoding/json"
	"fmt"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RunError describes why a run failed: the error kind and the failing step.
type RunError struct {
	Kind    string `json:"kind"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// Run is the state of a pipeline run as reported by the server.
type Run struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   *RunError       `json:"error,omitempty"`
	Partial json.RawMessage `json:"partial,omitempty"`
}

// Terminal reports whether the run can no longer change.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// DecodeOutput unmarshals the output of a succeeded run into v.
func (r *Run) DecodeOutput(v any) error {
	if r.Status != StatusSucceeded {
		return fmt.Errorf("run %s is %s, output is only set on success", r.ID, r.Status)
	}
	if err := json.Unmarshal(r.Output, v); err != nil {
		return fmt.Errorf("decode run output: %w", err)
	}
	return nil
}

// DecodePartial unmarshals the partial result a failed run kept, if any.
func (r *Run) DecodePartial(v any) (bool, error) {
	if len(r.Partial) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(r.Partial, v); err != nil {
		return false, fmt.Errorf("decode partial result: %w", err)
	}
	return true, nil
}

// IngestResult is the output of a succeeded ingest run.
type IngestResult struct {
	Ingested int `json:"ingested"`
}

// QueryResult is the output of a succeeded query run.
type QueryResult struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	NumContext int      `json:"num_context"`
}

// QueryPartial is what a failed query run reports when retrieval completed.
type QueryPartial struct {
	Sources    []string `json:"sources"`
	NumContext int      `json:"num_context"`
}

// CancelResult acknowledges a cancel request with the status at request time.
type CancelResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            `json:"status"` // "ok", "degraded", "error"
	Checks map[string]string `json:"checks"`
}

type triggerResponse struct {
	RunID string `json:"run_id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
