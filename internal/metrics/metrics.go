// Package metrics exposes Prometheus collectors for the merge pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted counts accepted merge submissions.
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muxd_jobs_submitted_total",
		Help: "Number of merge jobs accepted into the queue.",
	})

	// JobsCompleted counts terminal jobs by outcome. The error_kind label is
	// empty for successful jobs.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muxd_jobs_completed_total",
		Help: "Number of merge jobs that reached a terminal state.",
	}, []string{"status", "error_kind"})

	// StageDuration observes wall-clock time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "muxd_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	// QueueDepth tracks how many jobs are waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muxd_queue_depth",
		Help: "Number of queued jobs awaiting dispatch.",
	})

	// JobsInFlight tracks jobs currently held by workers.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muxd_jobs_in_flight",
		Help: "Number of jobs currently being processed.",
	})

	// CallbackFailures counts webhook deliveries that did not succeed.
	CallbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muxd_callback_failures_total",
		Help: "Number of terminal-state webhook deliveries that failed.",
	})
)

// ObserveCompletion records a terminal job outcome.
func ObserveCompletion(status, errorKind string) {
	JobsCompleted.WithLabelValues(status, errorKind).Inc()
}
