/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package cache provides the in-memory response cache and the deduplication of logically identical requests.
//
// Store is a capacity-bounded TTL store. When it is full, the entry created longest ago is evicted
// (reads do not refresh an entry). Expired entries are misses and are dropped when they are read;
// RunPeriodicCleanup (or DeleteExpired called from a worker) only reclaims memory earlier.
//
// Group collapses concurrent calls for the same key into one execution whose outcome is delivered
// to every caller. RequestKey computes such keys for HTTP requests, and Policy decides
// whether a response may be stored and for how long.
package cache
