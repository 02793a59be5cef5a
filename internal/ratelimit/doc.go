/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides a per-key sliding window limiter.
// The client uses it to bound speculative prefetching per endpoint.
package ratelimit
