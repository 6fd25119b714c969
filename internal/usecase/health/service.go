package health

import (
	"context"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates a failing auxiliary component.
	Degraded Status = "degraded"
	// Unhealthy indicates the vector index is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names reported in Report.Checks.
const (
	ComponentVectorIndex = "vector_index"
	ComponentRunStore    = "run_store"
	ComponentEmbedding   = "embedding"
)

const checkTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	index     Pinger
	runs      Pinger
	embedding EmbeddingChecker
}

// New creates a Service. runs and embedding can be nil.
func New(index, runs Pinger, embedding EmbeddingChecker) *Service {
	return &Service{index: index, runs: runs, embedding: embedding}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	checks := make(map[string]CheckResult)
	checks[ComponentVectorIndex] = result(s.index.Ping(ctx))

	if s.runs != nil {
		checks[ComponentRunStore] = result(s.runs.Ping(ctx))
	}
	if s.embedding != nil {
		checks[ComponentEmbedding] = result(s.embedding.HealthCheck(ctx))
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if checks[ComponentVectorIndex] == CheckError {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
