/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is an interface for collecting coordinator metrics.
type MetricsCollector interface {
	SetActive(n int)
	IncOperations(state State)
	ObserveThrottleDelay(d time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics of the coordinator.
type PrometheusMetrics struct {
	Active          prometheus.Gauge
	OperationsTotal *prometheus.CounterVec
	ThrottleDelays  prometheus.Histogram
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "coordinator_active_operations",
			Help:        "Number of running batch operations.",
			ConstLabels: opts.ConstLabels,
		}),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "coordinator_operations_total",
			Help:        "Number of batch operations by terminal state.",
			ConstLabels: opts.ConstLabels,
		}, []string{"state"}),
		ThrottleDelays: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "coordinator_throttle_delay_seconds",
			Help:        "Delays inserted before admitting a group of operations.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Active, pm.OperationsTotal, pm.ThrottleDelays)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Active)
	prometheus.Unregister(pm.OperationsTotal)
	prometheus.Unregister(pm.ThrottleDelays)
}

// SetActive sets the number of running operations.
func (pm *PrometheusMetrics) SetActive(n int) {
	pm.Active.Set(float64(n))
}

// IncOperations counts an operation that reached the terminal state.
func (pm *PrometheusMetrics) IncOperations(state State) {
	pm.OperationsTotal.WithLabelValues(state.String()).Inc()
}

// ObserveThrottleDelay observes an inserted throttle delay.
func (pm *PrometheusMetrics) ObserveThrottleDelay(d time.Duration) {
	pm.ThrottleDelays.Observe(d.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) SetActive(int)                      {}
func (disabledMetrics) IncOperations(State)                {}
func (disabledMetrics) ObserveThrottleDelay(time.Duration) {}
