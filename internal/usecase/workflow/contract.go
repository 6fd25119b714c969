package workflow

import (
	"context"

	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
)

// RunStore persists run records and cancel flags.
type RunStore interface {
	Save(ctx context.Context, r *domrun.Run) error
	Get(ctx context.Context, id string) (*domrun.Run, error)
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// Handler executes one pipeline kind. It composes steps with Step and
// returns the run output.
type Handler func(ctx context.Context, x *Exec) (any, error)
