// Package metrics provides Prometheus metrics for the translation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts processed translation jobs by outcome
	// (finished/failed).
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musictranslator_jobs_total",
		Help: "Total number of processed translation jobs, by outcome.",
	}, []string{"outcome"})

	// StageDuration observes per-stage pipeline latency. Stages run for
	// minutes, hence the wide buckets.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "musictranslator_stage_duration_seconds",
		Help:    "Duration of pipeline stages in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
	}, []string{"stage"})

	// StageErrorsTotal counts stage failures by stage and severity
	// (fatal/degraded).
	StageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musictranslator_stage_errors_total",
		Help: "Total number of stage errors, by stage and severity.",
	}, []string{"stage", "severity"})

	// SubmissionsTotal counts gateway submissions by result
	// (accepted/unauthorized/bad_request/unavailable).
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musictranslator_submissions_total",
		Help: "Total number of translation submissions, by result.",
	}, []string{"result"})

	// FileRequestsTotal counts artifact file requests by decision
	// (allowed/denied) and reason.
	FileRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musictranslator_file_requests_total",
		Help: "Total number of artifact file requests, by decision and reason.",
	}, []string{"decision", "reason"})

	// CleanupFilesTotal counts removed artifacts by kind
	// (lyrics/alignment/stems/audio).
	CleanupFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musictranslator_cleanup_files_total",
		Help: "Total number of artifacts removed by cleanup, by kind.",
	}, []string{"kind"})

	// QueueWaiting tracks jobs currently waiting on the translations queue.
	QueueWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "musictranslator_queue_waiting_jobs",
		Help: "Current number of jobs waiting on the translations queue.",
	})
)

// RecordStage observes a stage duration in seconds.
func RecordStage(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordStageError counts a stage failure.
func RecordStageError(stage, severity string) {
	StageErrorsTotal.WithLabelValues(stage, severity).Inc()
}

// RecordSubmission counts a gateway submission outcome.
func RecordSubmission(result string) {
	SubmissionsTotal.WithLabelValues(result).Inc()
}

// RecordFileRequest counts an artifact file request decision.
func RecordFileRequest(decision, reason string) {
	FileRequestsTotal.WithLabelValues(decision, reason).Inc()
}
