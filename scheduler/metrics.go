/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation statuses used as metric label values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCleared   = "cleared"
	StatusCanceled  = "canceled"
)

// MetricsCollector is an interface for collecting scheduler metrics.
type MetricsCollector interface {
	SetQueueLength(n int)
	SetActive(n int)
	IncOperations(priority Priority, status string)
	IncRetries(priority Priority)
	ObserveAttemptDuration(priority Priority, d time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// DurationBuckets is used for the attempt duration histogram.
	DurationBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics of the scheduler.
type PrometheusMetrics struct {
	QueueLength      prometheus.Gauge
	Active           prometheus.Gauge
	OperationsTotal  *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	AttemptDurations *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	buckets := opts.DurationBuckets
	if buckets == nil {
		buckets = []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2.5, 5, 10, 30}
	}
	return &PrometheusMetrics{
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "scheduler_queue_length",
			Help:        "Number of operations waiting for admission (queued, batched or waiting for a retry).",
			ConstLabels: opts.ConstLabels,
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "scheduler_active_operations",
			Help:        "Number of operations being executed.",
			ConstLabels: opts.ConstLabels,
		}),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "scheduler_operations_total",
			Help:        "Number of settled operations.",
			ConstLabels: opts.ConstLabels,
		}, []string{"priority", "status"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "scheduler_retries_total",
			Help:        "Number of scheduled retries.",
			ConstLabels: opts.ConstLabels,
		}, []string{"priority"}),
		AttemptDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "scheduler_attempt_duration_seconds",
			Help:        "A histogram of the durations of operation attempts.",
			Buckets:     buckets,
			ConstLabels: opts.ConstLabels,
		}, []string{"priority"}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.QueueLength, pm.Active, pm.OperationsTotal, pm.RetriesTotal, pm.AttemptDurations)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.QueueLength)
	prometheus.Unregister(pm.Active)
	prometheus.Unregister(pm.OperationsTotal)
	prometheus.Unregister(pm.RetriesTotal)
	prometheus.Unregister(pm.AttemptDurations)
}

// SetQueueLength sets the number of waiting operations.
func (pm *PrometheusMetrics) SetQueueLength(n int) {
	pm.QueueLength.Set(float64(n))
}

// SetActive sets the number of executing operations.
func (pm *PrometheusMetrics) SetActive(n int) {
	pm.Active.Set(float64(n))
}

// IncOperations increments the number of settled operations.
func (pm *PrometheusMetrics) IncOperations(priority Priority, status string) {
	pm.OperationsTotal.WithLabelValues(priority.String(), status).Inc()
}

// IncRetries increments the number of retries.
func (pm *PrometheusMetrics) IncRetries(priority Priority) {
	pm.RetriesTotal.WithLabelValues(priority.String()).Inc()
}

// ObserveAttemptDuration observes the duration of a single attempt.
func (pm *PrometheusMetrics) ObserveAttemptDuration(priority Priority, d time.Duration) {
	pm.AttemptDurations.WithLabelValues(priority.String()).Observe(d.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) SetQueueLength(int)                             {}
func (disabledMetrics) SetActive(int)                                  {}
func (disabledMetrics) IncOperations(Priority, string)                 {}
func (disabledMetrics) IncRetries(Priority)                            {}
func (disabledMetrics) ObserveAttemptDuration(Priority, time.Duration) {}
