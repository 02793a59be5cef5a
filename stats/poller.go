/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package stats

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mlandesman/sams-reqkit/internal/libinfo"
	"github.com/mlandesman/sams-reqkit/log"
	"github.com/mlandesman/sams-reqkit/service"
)

// DefaultPollInterval is the default interval of SnapshotPoller.
const DefaultPollInterval = 15 * time.Second

// Provider gives snapshots to the poller.
type Provider interface {
	Snapshot() Snapshot
}

// ProviderFunc is an adapter to allow the use of ordinary functions as Provider.
type ProviderFunc func() Snapshot

// Snapshot implements Provider.
func (f ProviderFunc) Snapshot() Snapshot {
	return f()
}

// SnapshotPollerOpts represents options for SnapshotPoller.
type SnapshotPollerOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	Interval   time.Duration
	Thresholds *Thresholds
	Logger     log.FieldLogger
}

// SnapshotPoller exports snapshots of a provider as Prometheus gauges.
type SnapshotPoller struct {
	provider   Provider
	interval   time.Duration
	thresholds Thresholds
	logger     log.FieldLogger

	Values       *prometheus.GaugeVec
	HealthStatus prometheus.Gauge

	mu         sync.Mutex
	lastStatus Status
}

// NewSnapshotPoller creates a new SnapshotPoller with default options.
func NewSnapshotPoller(provider Provider) *SnapshotPoller {
	return NewSnapshotPollerWithOpts(provider, SnapshotPollerOpts{})
}

// NewSnapshotPollerWithOpts creates a new SnapshotPoller.
func NewSnapshotPollerWithOpts(provider Provider, opts SnapshotPollerOpts) *SnapshotPoller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	th := DefaultThresholds()
	if opts.Thresholds != nil {
		th = *opts.Thresholds
	}
	constLabels := libinfo.WithVersionLabel(opts.ConstLabels)
	return &SnapshotPoller{
		provider:   provider,
		interval:   opts.Interval,
		thresholds: th,
		logger:     opts.Logger,
		Values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "reqkit_snapshot",
			Help:        "Latest values of the request kit counters.",
			ConstLabels: constLabels,
		}, []string{"value"}),
		HealthStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "reqkit_health_status",
			Help:        "Health status of the request kit (0 - healthy, 1 - degraded, 2 - unhealthy).",
			ConstLabels: constLabels,
		}),
		lastStatus: StatusHealthy,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (p *SnapshotPoller) MustRegister() {
	prometheus.MustRegister(p.Values, p.HealthStatus)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (p *SnapshotPoller) Unregister() {
	prometheus.Unregister(p.Values)
	prometheus.Unregister(p.HealthStatus)
}

// Poll takes one snapshot, exports it, and returns its assessment.
// A change of the health status is logged.
func (p *SnapshotPoller) Poll() Health {
	s := p.provider.Snapshot()
	for name, v := range map[string]float64{
		"active":                  float64(s.Active),
		"queued":                  float64(s.Queued),
		"completed":               float64(s.Completed),
		"failed":                  float64(s.Failed),
		"retries":                 float64(s.Retries),
		"average_latency_seconds": s.AverageLatency.Seconds(),
		"cache_entries":           float64(s.CacheEntries),
		"cache_hits":              float64(s.CacheHits),
		"cache_misses":            float64(s.CacheMisses),
		"deduplicated":            float64(s.Deduplicated),
		"predictive_hits":         float64(s.PredictiveHits),
		"prefetched":              float64(s.Prefetched),
	} {
		p.Values.WithLabelValues(name).Set(v)
	}

	h := Assess(s, p.thresholds)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HealthStatus.Set(float64(h.Status.rank()))
	if h.Status != p.lastStatus {
		fields := []log.Field{log.String("from", string(p.lastStatus)), log.String("to", string(h.Status)),
			log.Strings("recommendations", h.Recommendations)}
		if h.Status == StatusHealthy {
			p.logger.Info("request kit health changed", fields...)
		} else {
			p.logger.Warn("request kit health changed", fields...)
		}
		p.lastStatus = h.Status
	}
	return h
}

// Run polls periodically until ctx is done.
func (p *SnapshotPoller) Run(ctx context.Context) error {
	return service.NewPeriodicWorkerWithOpts(service.WorkerFunc(func(ctx context.Context) error {
		p.Poll()
		return nil
	}), p.interval, service.PeriodicWorkerOpts{Name: "stats-poller", Logger: p.logger}).Run(ctx)
}
