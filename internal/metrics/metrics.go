// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedbackd"

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for training, sentiment and dashboards.
type Metrics struct {
	TrainingRunsTotal *prometheus.CounterVec
	TrainingDuration  prometheus.Histogram
	TrainingRows      *prometheus.GaugeVec
	TrainingRunning   prometheus.Gauge

	SentimentCacheTotal *prometheus.CounterVec
	SentimentCacheSize  prometheus.Gauge

	DashboardBuildDuration prometheus.Histogram

	EventsPublishedTotal *prometheus.CounterVec
}

// New returns the process-wide metrics, registering them on first use.
//
// Metrics:
//   - feedbackd_training_runs_total{status}
//   - feedbackd_training_duration_seconds
//   - feedbackd_training_rows{kind}
//   - feedbackd_training_running
//   - feedbackd_sentiment_cache_total{result}
//   - feedbackd_sentiment_cache_size
//   - feedbackd_dashboard_build_duration_seconds
//   - feedbackd_events_published_total{result}
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TrainingRunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "training",
					Name:      "runs_total",
					Help:      "Training runs by terminal status",
				},
				[]string{"status"}, // "completed" or "error"
			),
			TrainingDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Subsystem: "training",
					Name:      "duration_seconds",
					Help:      "Wall time of a training run",
					Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
				},
			),
			TrainingRows: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Subsystem: "training",
					Name:      "rows",
					Help:      "Rows produced by the last successful run",
				},
				[]string{"kind"}, // "correlations" or "importances"
			),
			TrainingRunning: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Subsystem: "training",
					Name:      "running",
					Help:      "1 while a training run is in progress",
				},
			),
			SentimentCacheTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "sentiment",
					Name:      "cache_total",
					Help:      "Sentiment cache lookups by result",
				},
				[]string{"result"}, // "hit", "miss" or "preset"
			),
			SentimentCacheSize: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Subsystem: "sentiment",
					Name:      "cache_size",
					Help:      "Records with a cached sentiment label",
				},
			),
			DashboardBuildDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Subsystem: "dashboard",
					Name:      "build_duration_seconds",
					Help:      "Time to assemble a dashboard snapshot",
					Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
				},
			),
			EventsPublishedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "events",
					Name:      "published_total",
					Help:      "Training status events by publish result",
				},
				[]string{"result"}, // "ok", "error" or "dropped"
			),
		}
	})
	return globalMetrics
}

// RecordTrainingRun records a finished run.
func (m *Metrics) RecordTrainingRun(status string, durationSeconds float64) {
	m.TrainingRunsTotal.WithLabelValues(status).Inc()
	m.TrainingDuration.Observe(durationSeconds)
}

// SetTrainingRows records the size of the latest result set.
func (m *Metrics) SetTrainingRows(correlations, importances int) {
	m.TrainingRows.WithLabelValues("correlations").Set(float64(correlations))
	m.TrainingRows.WithLabelValues("importances").Set(float64(importances))
}

// SetTrainingRunning flips the in-progress gauge.
func (m *Metrics) SetTrainingRunning(running bool) {
	if running {
		m.TrainingRunning.Set(1)
		return
	}
	m.TrainingRunning.Set(0)
}

// RecordSentimentLookup counts one classifier cache lookup.
func (m *Metrics) RecordSentimentLookup(result string) {
	m.SentimentCacheTotal.WithLabelValues(result).Inc()
}

// SetSentimentCacheSize updates the cache size gauge.
func (m *Metrics) SetSentimentCacheSize(size int) {
	m.SentimentCacheSize.Set(float64(size))
}

// ObserveDashboardBuild records snapshot assembly time.
func (m *Metrics) ObserveDashboardBuild(durationSeconds float64) {
	m.DashboardBuildDuration.Observe(durationSeconds)
}

// RecordEventPublish counts one publish attempt.
func (m *Metrics) RecordEventPublish(result string) {
	m.EventsPublishedTotal.WithLabelValues(result).Inc()
}
