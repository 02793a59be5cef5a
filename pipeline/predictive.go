/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pipeline

import (
	"fmt"

	"github.com/mlandesman/sams-reqkit/cache"
)

// minConfidenceSamples is the number of latency samples required to trust an endpoint at all.
const minConfidenceSamples = 3

type predictiveEntry[V any] struct {
	value      V
	confidence float64
}

// PredictiveCache answers repeated requests instantly when the endpoint behaves predictably.
// Every remembered value carries a confidence derived from the variation of the endpoint's recent latencies;
// Lookup only returns values whose confidence reaches the threshold.
type PredictiveCache[V any] struct {
	history   *LatencyHistory
	threshold float64
	store     *cache.Store[string, predictiveEntry[V]]
}

// NewPredictiveCache creates a new PredictiveCache.
func NewPredictiveCache[V any](history *LatencyHistory, cfg PredictiveConfig, metrics cache.MetricsCollector) (*PredictiveCache[V], error) {
	store, err := cache.NewWithOpts[string, predictiveEntry[V]](cfg.MaxEntries, metrics, cache.Options{DefaultTTL: cfg.TTL})
	if err != nil {
		return nil, fmt.Errorf("create predictive store: %w", err)
	}
	return &PredictiveCache[V]{history: history, threshold: cfg.ConfidenceThreshold, store: store}, nil
}

// Confidence returns 1 / (1 + coefficient of variation) of the endpoint's latencies,
// or 0 if there are not enough samples.
func (pc *PredictiveCache[V]) Confidence(endpoint string) float64 {
	st := pc.history.Stats(endpoint)
	if st.Count < minConfidenceSamples {
		return 0
	}
	return 1 / (1 + st.CoefficientOfVariation())
}

// Remember stores the value with the endpoint's current confidence and returns that confidence.
func (pc *PredictiveCache[V]) Remember(key, endpoint string, value V) float64 {
	conf := pc.Confidence(endpoint)
	pc.store.Add(key, predictiveEntry[V]{value: value, confidence: conf})
	return conf
}

// Lookup returns the remembered value if its confidence reaches the threshold.
func (pc *PredictiveCache[V]) Lookup(key string) (value V, confidence float64, ok bool) {
	entry, found := pc.store.Get(key)
	if !found {
		return value, 0, false
	}
	if entry.confidence < pc.threshold {
		return value, entry.confidence, false
	}
	return entry.value, entry.confidence, true
}

// Remove forgets the value stored by key.
func (pc *PredictiveCache[V]) Remove(key string) bool {
	return pc.store.Remove(key)
}

// RemoveFunc forgets the values whose keys match and returns their number.
func (pc *PredictiveCache[V]) RemoveFunc(match func(key string) bool) int {
	return pc.store.RemoveFunc(match)
}

// Purge forgets all values.
func (pc *PredictiveCache[V]) Purge() {
	pc.store.Purge()
}

// Len returns the number of remembered values.
func (pc *PredictiveCache[V]) Len() int {
	return pc.store.Len()
}

// DeleteExpired removes expired values and returns how many were removed.
func (pc *PredictiveCache[V]) DeleteExpired() int {
	return pc.store.DeleteExpired()
}
