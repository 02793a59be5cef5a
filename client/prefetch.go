/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package client

import (
	"net/http"

	"github.com/mlandesman/sams-reqkit/log"
	"github.com/mlandesman/sams-reqkit/scheduler"
)

// prefetch warms the cache with related resources of a fast endpoint.
// Every endpoint may trigger at most PrefetchConfig.MaxPerWindow prefetches per window.
// Failures are discarded.
func (c *Client) prefetch(endpoint string, header http.Header, related []string) {
	if c.prefetchLimiter == nil {
		return
	}
	for _, rawURL := range related {
		allow, _, err := c.prefetchLimiter.Allow(c.baseCtx, endpoint)
		if err != nil || !allow {
			c.logger.Debug("prefetch skipped by rate limit", log.String("endpoint", endpoint), log.String("url", rawURL))
			return
		}
		req := Request{Method: http.MethodGet, URL: rawURL, Header: header.Clone()}
		c.prefetched.Inc()
		go func() {
			if _, err := c.Do(c.baseCtx, req, CallOptions{Priority: scheduler.PriorityLow, Batchable: true}); err != nil {
				c.logger.Debug("prefetch failed", log.String("url", req.URL), log.Error(err))
			}
		}()
	}
}
