// Package metrics exposes the pipeline's Prometheus metrics. All collectors
// are registered at init through promauto; components record into the shared
// vectors with their own label values.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsIngested counts source records received, by source system.
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "records_ingested_total",
			Help:      "Source records received, by source system",
		},
		[]string{"source_system"},
	)

	// RecordsDropped counts records dropped for failed identity resolution,
	// by source system.
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "records_dropped_total",
			Help:      "Records dropped as malformed, by source system",
		},
		[]string{"source_system"},
	)

	// RecordsEmitted counts records materialized per layer.
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "records_emitted_total",
			Help:      "Records materialized, by layer",
		},
		[]string{"layer"},
	)

	// StageDuration tracks wall time per stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"stage"},
	)

	// StageAttempts counts stage executions by terminal outcome, retries
	// included.
	StageAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "stage_attempts_total",
			Help:      "Stage attempts, by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	// GateResults counts quality-gate evaluations by layer and verdict.
	GateResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "gate_results_total",
			Help:      "Quality gate evaluations, by layer and verdict",
		},
		[]string{"layer", "verdict"},
	)

	// RunsCompleted counts pipeline runs by terminal status.
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "runs_completed_total",
			Help:      "Pipeline runs reaching a terminal status",
		},
		[]string{"status"},
	)

	// PublishedRows reports the size of the most recently published table.
	PublishedRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atlas",
			Name:      "published_rows",
			Help:      "Rows in the currently published marts table",
		},
	)
)

// ObserveStage records one stage execution.
func ObserveStage(stage string, outcome string, elapsed time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	StageAttempts.WithLabelValues(stage, outcome).Inc()
}

// RecordGate records one gate verdict.
func RecordGate(layer string, passed bool) {
	verdict := "passed"
	if !passed {
		verdict = "failed"
	}
	GateResults.WithLabelValues(layer, verdict).Inc()
}
