/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// DefaultMaxEntries is the capacity used when a Store is created with maxEntries == 0.
const DefaultMaxEntries = 100

// Entry is a stored value with its timestamps.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time // zero means no expiration
}

// Expired tells whether the entry is expired at the given moment.
func (e Entry[V]) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

type storeItem[K comparable, V any] struct {
	key K
	Entry[V]
}

// Options represents options for the Store.
type Options struct {
	// DefaultTTL is used by Add. Zero means entries added by Add never expire.
	DefaultTTL time.Duration
}

// StoreStats is a point-in-time view of the store counters.
type StoreStats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Store is a capacity-bounded key-value store with per-entry TTL.
// Eviction removes the entry with the oldest creation time; reads do not affect eviction order.
type Store[K comparable, V any] struct {
	maxEntries int
	defaultTTL time.Duration

	mu      sync.Mutex
	order   *list.List // front is the most recently created entry
	entries map[K]*list.Element

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	metrics MetricsCollector
	now     func() time.Time
}

// New creates a new Store with the provided maximum number of entries and metrics collector.
func New[K comparable, V any](maxEntries int, metrics MetricsCollector) (*Store[K, V], error) {
	return NewWithOpts[K, V](maxEntries, metrics, Options{})
}

// NewWithOpts creates a new Store with the provided maximum number of entries, metrics collector, and options.
// maxEntries == 0 means DefaultMaxEntries. Metrics collector may be nil.
func NewWithOpts[K comparable, V any](maxEntries int, metrics MetricsCollector, opts Options) (*Store[K, V], error) {
	if maxEntries < 0 {
		return nil, fmt.Errorf("maxEntries must be greater than or equal to 0")
	}
	if maxEntries == 0 {
		maxEntries = DefaultMaxEntries
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("defaultTTL must be greater or equal to 0 (no expiration)")
	}
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	return &Store[K, V]{
		maxEntries: maxEntries,
		defaultTTL: opts.DefaultTTL,
		order:      list.New(),
		entries:    make(map[K]*list.Element),
		metrics:    metrics,
		now:        time.Now,
	}, nil
}

// Get returns a non-expired value by key. An expired entry is removed and reported as a miss.
func (s *Store[K, V]) Get(key K) (value V, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, found := s.entries[key]
	if !found {
		s.miss()
		return value, false
	}
	item := elem.Value.(*storeItem[K, V])
	if item.Expired(s.now()) {
		s.removeElement(elem)
		s.metrics.SetAmount(len(s.entries))
		s.miss()
		return value, false
	}
	s.hits.Inc()
	s.metrics.IncHits()
	return item.Value, true
}

// GetOrAdd returns a non-expired value by key or stores the one returned by valueProvider with the default TTL.
func (s *Store[K, V]) GetOrAdd(key K, valueProvider func() V) (value V, exists bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[key]; ok {
		item := elem.Value.(*storeItem[K, V])
		if !item.Expired(s.now()) {
			s.hits.Inc()
			s.metrics.IncHits()
			return item.Value, true
		}
		s.removeElement(elem)
	}
	s.miss()
	value = valueProvider()
	s.add(key, value, s.defaultTTL)
	return value, false
}

// Entry returns the stored entry without counting a hit or a miss. Expired entries are returned as well.
func (s *Store[K, V]) Entry(key K) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[key]; ok {
		return elem.Value.(*storeItem[K, V]).Entry, true
	}
	return Entry[V]{}, false
}

// Add stores the value with the default TTL.
func (s *Store[K, V]) Add(key K, value V) {
	s.AddWithTTL(key, value, s.defaultTTL)
}

// AddWithTTL stores the value with the given TTL (zero means no expiration).
// Re-adding an existing key replaces its value and refreshes its creation time.
// If the store is over capacity afterwards, exactly one entry (the oldest created) is evicted.
func (s *Store[K, V]) AddWithTTL(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(key, value, ttl)
}

func (s *Store[K, V]) add(key K, value V, ttl time.Duration) {
	now := s.now()
	item := &storeItem[K, V]{key: key, Entry: Entry[V]{Value: value, CreatedAt: now}}
	if ttl > 0 {
		item.ExpiresAt = now.Add(ttl)
	}

	if elem, ok := s.entries[key]; ok {
		elem.Value = item
		s.order.MoveToFront(elem)
		return
	}
	s.entries[key] = s.order.PushFront(item)
	if len(s.entries) > s.maxEntries {
		if oldest := s.order.Back(); oldest != nil {
			s.removeElement(oldest)
			s.evictions.Inc()
			s.metrics.AddEvictions(1)
		}
	}
	s.metrics.SetAmount(len(s.entries))
}

// Remove removes a value by key.
func (s *Store[K, V]) Remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeElement(elem)
	s.metrics.SetAmount(len(s.entries))
	return true
}

// RemoveFunc removes every entry whose key satisfies match and returns the number of removed entries.
func (s *Store[K, V]) RemoveFunc(match func(key K) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for key, elem := range s.entries {
		if match(key) {
			s.removeElement(elem)
			removed++
		}
	}
	s.metrics.SetAmount(len(s.entries))
	return removed
}

// Purge clears the store. Removed entries are not counted as evictions.
func (s *Store[K, V]) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[K]*list.Element)
	s.order.Init()
	s.metrics.SetAmount(0)
}

// Len returns the number of stored entries including expired ones not yet removed.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MaxEntries returns the capacity of the store.
func (s *Store[K, V]) MaxEntries() int {
	return s.maxEntries
}

// Stats returns the store counters.
func (s *Store[K, V]) Stats() StoreStats {
	return StoreStats{Entries: s.Len(), Hits: s.hits.Load(), Misses: s.misses.Load(), Evictions: s.evictions.Load()}
}

// DeleteExpired removes all expired entries and returns their number.
func (s *Store[K, V]) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var removed int
	for _, elem := range s.entries {
		if elem.Value.(*storeItem[K, V]).Expired(now) {
			s.removeElement(elem)
			removed++
		}
	}
	s.metrics.SetAmount(len(s.entries))
	return removed
}

// RunPeriodicCleanup removes expired entries every cleanupInterval until ctx is done.
// It's supposed to be run in a separate goroutine.
func (s *Store[K, V]) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.DeleteExpired()
		}
	}
}

func (s *Store[K, V]) removeElement(elem *list.Element) {
	s.order.Remove(elem)
	delete(s.entries, elem.Value.(*storeItem[K, V]).key)
}

func (s *Store[K, V]) miss() {
	s.misses.Inc()
	s.metrics.IncMisses()
}
