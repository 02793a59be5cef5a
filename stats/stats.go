/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package stats aggregates counters of the kit into snapshots and classifies them into coarse health statuses.
// Nothing here is consulted by the control logic; it is advisory output for operators and callers.
package stats

import (
	"fmt"
	"time"
)

// Snapshot is a point-in-time aggregate of the kit counters.
type Snapshot struct {
	// MaxConcurrent is the scheduler ceiling the queue depth is compared with.
	MaxConcurrent int

	Active         int
	Queued         int
	Completed      int64
	Failed         int64
	Retries        int64
	AverageLatency time.Duration

	CacheEntries   int
	CacheHits      int64
	CacheMisses    int64
	Deduplicated   int64
	PredictiveHits int64
	Prefetched     int64
}

// FailureRate returns the share of failed operations among settled ones.
func (s Snapshot) FailureRate() float64 {
	total := s.Completed + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total)
}

// RetryRatio returns the number of retries per settled operation.
func (s Snapshot) RetryRatio() float64 {
	total := s.Completed + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Retries) / float64(total)
}

// CacheHitRate returns the share of cache lookups that were hits.
func (s Snapshot) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Status is a coarse health classification.
type Status string

// Health statuses.
const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	}
	return 0
}

// Level is a pair of degraded and unhealthy limits for one indicator.
type Level[T float64 | time.Duration] struct {
	Degraded  T
	Unhealthy T
}

func (l Level[T]) status(v T) Status {
	switch {
	case v >= l.Unhealthy:
		return StatusUnhealthy
	case v >= l.Degraded:
		return StatusDegraded
	}
	return StatusHealthy
}

// Thresholds configure Assess.
type Thresholds struct {
	// FailureRate is the share of failed operations.
	FailureRate Level[float64]

	// QueueDepth is the number of waiting operations per admission slot.
	QueueDepth Level[float64]

	AverageLatency Level[time.Duration]

	// RetryRatio is the number of retries per settled operation.
	RetryRatio Level[float64]

	// MinSamples is the number of settled operations below which rates are not judged.
	MinSamples int64
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FailureRate:    Level[float64]{Degraded: 0.1, Unhealthy: 0.3},
		QueueDepth:     Level[float64]{Degraded: 2, Unhealthy: 5},
		AverageLatency: Level[time.Duration]{Degraded: time.Second, Unhealthy: 5 * time.Second},
		RetryRatio:     Level[float64]{Degraded: 0.2, Unhealthy: 0.5},
		MinSamples:     10,
	}
}

// Health is the result of Assess.
type Health struct {
	Status          Status
	Recommendations []string
	Snapshot        Snapshot
}

// Assess classifies the snapshot. The status is the worst status among the indicators,
// and every indicator that is not healthy contributes a recommendation.
func Assess(s Snapshot, th Thresholds) Health {
	h := Health{Status: StatusHealthy, Snapshot: s}
	judge := func(st Status, recommendation string) {
		if st == StatusHealthy {
			return
		}
		if st.rank() > h.Status.rank() {
			h.Status = st
		}
		h.Recommendations = append(h.Recommendations, recommendation)
	}

	if settled := s.Completed + s.Failed; settled >= th.MinSamples {
		rate := s.FailureRate()
		judge(th.FailureRate.status(rate), fmt.Sprintf(
			"%.0f%% of operations fail: check backend availability and credentials", rate*100))
		ratio := s.RetryRatio()
		judge(th.RetryRatio.status(ratio), fmt.Sprintf(
			"%.2f retries per operation: the network is unstable, consider longer timeouts", ratio))
	}
	if s.MaxConcurrent > 0 {
		depth := float64(s.Queued) / float64(s.MaxConcurrent)
		judge(th.QueueDepth.status(depth), fmt.Sprintf(
			"%d operations wait for %d slots: reduce request volume or batch low-priority calls",
			s.Queued, s.MaxConcurrent))
	}
	if s.AverageLatency > 0 {
		judge(th.AverageLatency.status(s.AverageLatency), fmt.Sprintf(
			"average latency is %s: enable caching or prefetching for hot endpoints", s.AverageLatency.Round(time.Millisecond)))
	}
	return h
}
