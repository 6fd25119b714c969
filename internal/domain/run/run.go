// Package run models a durable pipeline run: its lifecycle, memoized step
// outputs and terminal result.
package run

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kailas-cloud/ragflow/internal/domain"
)

// Kind identifies which pipeline a run executes.
type Kind string

// Pipeline kinds.
const (
	KindIngest Kind = "ingest"
	KindQuery  Kind = "query"
)

// Valid reports whether k names a known pipeline.
func (k Kind) Valid() bool {
	return k == KindIngest || k == KindQuery
}

// Status is the lifecycle state of a run.
type Status string

// Run statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether s -> to is a legal lifecycle move.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// Error describes why a run failed.
type Error struct {
	Kind    string `json:"kind"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// Run is the persisted record of one pipeline execution.
type Run struct {
	ID        string                     `json:"id"`
	Kind      Kind                       `json:"kind"`
	Status    Status                     `json:"status"`
	Input     json.RawMessage            `json:"input"`
	Output    json.RawMessage            `json:"output,omitempty"`
	Error     *Error                     `json:"error,omitempty"`
	Partial   json.RawMessage            `json:"partial,omitempty"`
	Steps     map[string]json.RawMessage `json:"steps,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// New creates a pending run with the given input payload.
func New(id string, kind Kind, input any, now time.Time) (Run, error) {
	if id == "" {
		return Run{}, fmt.Errorf("run id is required: %w", domain.ErrInvalidInput)
	}
	if !kind.Valid() {
		return Run{}, fmt.Errorf("unknown run kind %q: %w", kind, domain.ErrInvalidInput)
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return Run{}, fmt.Errorf("marshal run input: %w", err)
	}
	return Run{
		ID:        id,
		Kind:      kind,
		Status:    StatusPending,
		Input:     raw,
		Steps:     map[string]json.RawMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition moves the run to status to. Terminal runs reject every move.
func (r *Run) Transition(to Status, now time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("run %s is %s: %w", r.ID, r.Status, domain.ErrRunTerminal)
	}
	if !r.Status.CanTransition(to) {
		return fmt.Errorf("illegal transition %s -> %s", r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// StepOutput returns the memoized output of a completed step.
func (r *Run) StepOutput(name string) (json.RawMessage, bool) {
	out, ok := r.Steps[name]
	return out, ok
}

// RecordStep memoizes a step output so a re-executed run skips the step.
func (r *Run) RecordStep(name string, out any, now time.Time) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal step %s output: %w", name, err)
	}
	if r.Steps == nil {
		r.Steps = map[string]json.RawMessage{}
	}
	r.Steps[name] = raw
	r.UpdatedAt = now
	return nil
}

// Succeed stores the final output and marks the run succeeded.
func (r *Run) Succeed(out any, now time.Time) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal run output: %w", err)
	}
	if err := r.Transition(StatusSucceeded, now); err != nil {
		return err
	}
	r.Output = raw
	return nil
}

// Fail marks the run failed with the error classified by its sentinel.
// partial may be nil.
func (r *Run) Fail(step string, cause error, partial any, now time.Time) error {
	if err := r.Transition(StatusFailed, now); err != nil {
		return err
	}
	r.Error = &Error{Kind: domain.ErrorKind(cause), Step: step, Message: cause.Error()}
	if partial != nil {
		raw, err := json.Marshal(partial)
		if err != nil {
			return fmt.Errorf("marshal partial result: %w", err)
		}
		r.Partial = raw
	}
	return nil
}
