/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pipeline

import (
	"math"
	"sync"
	"time"
)

// Class is a latency classification of an endpoint.
type Class int

// Latency classes.
const (
	ClassTypical Class = iota
	ClassFast
	ClassSlow
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassFast:
		return "fast"
	case ClassSlow:
		return "slow"
	}
	return "typical"
}

// LatencyStats describes the recent latencies of an endpoint.
type LatencyStats struct {
	Count   int
	Average time.Duration
	StdDev  time.Duration

	// Variance is in seconds squared.
	Variance float64
}

// CoefficientOfVariation returns the ratio of the standard deviation to the average.
func (s LatencyStats) CoefficientOfVariation() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(s.StdDev) / float64(s.Average)
}

type ring struct {
	samples []time.Duration
	next    int
	full    bool
}

func (r *ring) add(d time.Duration) {
	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) values() []time.Duration {
	if r.full {
		return r.samples
	}
	return r.samples[:r.next]
}

// LatencyHistory keeps a bounded window of the latest latencies per endpoint.
type LatencyHistory struct {
	size          int
	fastThreshold time.Duration
	slowThreshold time.Duration

	mu        sync.RWMutex
	endpoints map[string]*ring
}

// NewLatencyHistory creates a new LatencyHistory.
// Endpoints with average latency below fast are classified as fast, above slow as slow.
func NewLatencyHistory(size int, fast, slow time.Duration) *LatencyHistory {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &LatencyHistory{size: size, fastThreshold: fast, slowThreshold: slow, endpoints: make(map[string]*ring)}
}

// Record adds the latency of a response from the endpoint. The oldest sample is dropped when the window is full.
func (h *LatencyHistory) Record(endpoint string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.endpoints[endpoint]
	if !ok {
		r = &ring{samples: make([]time.Duration, h.size)}
		h.endpoints[endpoint] = r
	}
	r.add(d)
}

// Stats returns statistics of the endpoint's window. Count is zero for unknown endpoints.
func (h *LatencyHistory) Stats(endpoint string) LatencyStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.endpoints[endpoint]
	if !ok {
		return LatencyStats{}
	}
	values := r.values()
	if len(values) == 0 {
		return LatencyStats{}
	}
	var sum time.Duration
	for _, v := range values {
		sum += v
	}
	avg := sum / time.Duration(len(values))
	var sq float64
	for _, v := range values {
		diff := (v - avg).Seconds()
		sq += diff * diff
	}
	variance := sq / float64(len(values))
	return LatencyStats{
		Count:    len(values),
		Average:  avg,
		Variance: variance,
		StdDev:   time.Duration(math.Sqrt(variance) * float64(time.Second)),
	}
}

// Classify classifies the endpoint by its average latency. Unknown endpoints are typical.
func (h *LatencyHistory) Classify(endpoint string) Class {
	st := h.Stats(endpoint)
	switch {
	case st.Count == 0:
		return ClassTypical
	case st.Average < h.fastThreshold:
		return ClassFast
	case st.Average > h.slowThreshold:
		return ClassSlow
	}
	return ClassTypical
}

// Len returns the number of tracked endpoints.
func (h *LatencyHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.endpoints)
}

// Reset forgets the history of all endpoints.
func (h *LatencyHistory) Reset() {
	h.mu.Lock()
	h.endpoints = make(map[string]*ring)
	h.mu.Unlock()
}
