package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// PipelineInFlight is the current number of analysis requests being processed.
	PipelineInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mealapp",
		Subsystem: "analyzer",
		Name:      "pipeline_in_flight",
		Help:      "Current number of analysis pipeline runs in progress.",
	})

	// PipelineRunsTotal counts pipeline runs by outcome kind.
	PipelineRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mealapp",
		Subsystem: "analyzer",
		Name:      "pipeline_runs_total",
		Help:      "Total number of analysis pipeline runs, labeled by outcome kind.",
	}, []string{"kind"})

	// PipelineDurationSeconds is end-to-end time per pipeline run.
	PipelineDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mealapp",
		Subsystem: "analyzer",
		Name:      "pipeline_duration_seconds",
		Help:      "End-to-end time of an analysis pipeline run.",
		// Keep buckets fairly coarse to avoid high-cardinality time series.
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"kind"})

	// StageDurationSeconds is per-stage time within a pipeline run.
	StageDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mealapp",
		Subsystem: "analyzer",
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Time spent in each pipeline stage (stat, fetch, detect, analyze).",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"stage"})

	// TokensMintedTotal counts custom-token mints by outcome.
	TokensMintedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mealapp",
		Subsystem: "auth",
		Name:      "tokens_minted_total",
		Help:      "Total number of custom token mint attempts, labeled by result.",
	}, []string{"result"})
)

// Register registers all service metrics with the default registry.
// Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			PipelineInFlight,
			PipelineRunsTotal,
			PipelineDurationSeconds,
			StageDurationSeconds,
			TokensMintedTotal,
		)
	})
}
