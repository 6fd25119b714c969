package metrics

import "github.com/prometheus/client_golang/prometheus"

// Workflow Prometheus metrics.
var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs that reached a terminal status",
		},
		[]string{"kind", "status"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Pipeline step attempt duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind", "step", "outcome"},
	)

	StepRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Pipeline step re-executions after a retryable failure",
		},
		[]string{"kind", "step"},
	)

	RunsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Pipeline runs currently executing on the worker pool",
		},
	)
)

var workflowMetricsRegistered bool

// RegisterWorkflowMetrics registers Prometheus workflow metrics. Must be called once from main.
func RegisterWorkflowMetrics() {
	if workflowMetricsRegistered {
		return
	}
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(StepRetriesTotal)
	prometheus.MustRegister(RunsInFlight)
	workflowMetricsRegistered = true
}
