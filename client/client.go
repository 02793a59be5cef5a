/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package client provides the shared handle through which all outbound calls flow.
// A call is answered from the response cache when possible, otherwise it joins an identical
// call in flight or starts a new one that is admitted by the scheduler, performed by the
// transport and interpreted by the response pipeline.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/mlandesman/sams-reqkit/cache"
	"github.com/mlandesman/sams-reqkit/httpclient"
	"github.com/mlandesman/sams-reqkit/internal/ratelimit"
	"github.com/mlandesman/sams-reqkit/log"
	"github.com/mlandesman/sams-reqkit/pipeline"
	"github.com/mlandesman/sams-reqkit/reqerr"
	"github.com/mlandesman/sams-reqkit/scheduler"
	"github.com/mlandesman/sams-reqkit/service"
	"github.com/mlandesman/sams-reqkit/stats"
)

// DefaultRequestType is the request type reported to transport metrics and logs.
const DefaultRequestType = "reqkit"

// CallOptions represents per-call options.
type CallOptions struct {
	Priority    scheduler.Priority
	Batchable   bool
	BypassQueue bool

	// CacheTTL overrides the TTL chosen by the cache policy. A positive value also makes
	// responses to unsafe methods cacheable.
	CacheTTL time.Duration

	// Timeout bounds every attempt. The scheduler timeout is used if zero.
	Timeout time.Duration

	// CacheKey replaces the key computed from the request.
	CacheKey string

	NoCache bool
	NoDedup bool

	// Predictive allows answering from the predictive cache when the endpoint is stable enough.
	Predictive bool

	// AllowShaping opts in to lossy payload shaping under speed-first and aggressive-compression.
	AllowShaping bool

	// Related URLs are prefetched at low priority after a fast successful response.
	Related []string

	// RequestType is used as the request type label of the transport metrics (DefaultRequestType if empty).
	RequestType string
}

// Opts represents options for the Client.
type Opts struct {
	Logger log.FieldLogger

	// Transport is the innermost RoundTripper wrapped by the httpclient middleware chain.
	Transport http.RoundTripper

	// HTTPClient replaces the whole transport chain built from the transport config.
	HTTPClient *http.Client

	CacheMetrics     *cache.PrometheusMetrics
	SchedulerMetrics scheduler.MetricsCollector
	TransportMetrics httpclient.MetricsCollector

	// Thresholds are used by Health (stats.DefaultThresholds if nil).
	Thresholds *stats.Thresholds

	// StatsExport enables periodic export of snapshots to Prometheus while Run is active.
	StatsExport *stats.SnapshotPollerOpts

	// PrefetchLimiter replaces the per-endpoint sliding window limiter built from the prefetch config.
	// Prefetch disabled in the config stays disabled.
	PrefetchLimiter ratelimit.Limiter
}

// Client is the explicit shared handle composing the response cache, request deduplication,
// the scheduler and the response pipeline. It is safe for concurrent use.
type Client struct {
	logger     log.FieldLogger
	httpClient *http.Client

	policy          *cache.Policy
	responses       *cache.Store[string, *Response]
	predictive      *pipeline.PredictiveCache[*Response]
	group           *cache.Group[string, *Response]
	scheduler       *scheduler.Scheduler
	pipeline        *pipeline.Pipeline
	prefetchLimiter ratelimit.Limiter

	cleanupInterval time.Duration
	thresholds      stats.Thresholds
	poller          *stats.SnapshotPoller

	baseCtx    context.Context
	baseCancel context.CancelFunc

	predictiveHits atomic.Int64
	prefetched     atomic.Int64
}

var _ stats.Provider = (*Client)(nil)

// New creates a new Client.
func New(cfg *Config) (*Client, error) {
	return NewWithOpts(cfg, Opts{})
}

// NewWithOpts creates a new Client with options.
func NewWithOpts(cfg *Config, opts Opts) (*Client, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	policy, err := cfg.Cache.Policy()
	if err != nil {
		return nil, reqerr.New(reqerr.KindConfiguration, fmt.Errorf("create cache policy: %w", err))
	}

	var responsesMetrics, predictiveMetrics, dedupMetrics cache.MetricsCollector
	if opts.CacheMetrics != nil {
		responsesMetrics = opts.CacheMetrics.ForStore("responses")
		predictiveMetrics = opts.CacheMetrics.ForStore("predictive")
		dedupMetrics = opts.CacheMetrics.ForStore("dedup")
	}

	responses, err := cache.NewWithOpts[string, *Response](
		cfg.Cache.MaxEntries, responsesMetrics, cache.Options{DefaultTTL: cfg.Cache.DefaultTTL})
	if err != nil {
		return nil, reqerr.New(reqerr.KindConfiguration, fmt.Errorf("create response cache: %w", err))
	}

	pl, err := pipeline.NewWithOpts(cfg.Pipeline, pipeline.Opts{Logger: logger})
	if err != nil {
		return nil, err
	}
	predictive, err := pipeline.NewPredictiveCache[*Response](pl.History(), cfg.Pipeline.Predictive, predictiveMetrics)
	if err != nil {
		return nil, reqerr.New(reqerr.KindConfiguration, err)
	}

	var group *cache.Group[string, *Response]
	if cfg.Cache.Dedup.Enabled {
		if group, err = cache.NewGroup[string, *Response](cache.GroupOptions{
			Retain:      cfg.Cache.Dedup.Window,
			MaxRetained: cfg.Cache.Dedup.MaxRetained,
			Metrics:     dedupMetrics,
		}); err != nil {
			return nil, reqerr.New(reqerr.KindConfiguration, fmt.Errorf("create dedup group: %w", err))
		}
	}

	sched, err := scheduler.NewWithOpts(cfg.Scheduler, scheduler.Opts{Logger: logger, Metrics: opts.SchedulerMetrics})
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		if httpClient, err = httpclient.NewWithOpts(cfg.Transport, httpclient.Opts{
			Delegate:  opts.Transport,
			Logger:    logger,
			Collector: opts.TransportMetrics,
		}); err != nil {
			return nil, reqerr.New(reqerr.KindConfiguration, err)
		}
	}

	var limiter ratelimit.Limiter
	switch {
	case !cfg.Prefetch.Enabled:
	case opts.PrefetchLimiter != nil:
		limiter = opts.PrefetchLimiter
	default:
		if limiter, err = ratelimit.NewSlidingWindowLimiter(ratelimit.Rate{
			Count:    cfg.Prefetch.MaxPerWindow,
			Duration: cfg.Prefetch.Window,
		}, cfg.Prefetch.MaxEndpoints); err != nil {
			return nil, reqerr.New(reqerr.KindConfiguration, fmt.Errorf("create prefetch limiter: %w", err))
		}
	}

	thresholds := stats.DefaultThresholds()
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}

	cleanupInterval := cfg.Cache.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = cache.DefaultCleanupInterval
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	c := &Client{
		logger:          logger,
		httpClient:      httpClient,
		policy:          policy,
		responses:       responses,
		predictive:      predictive,
		group:           group,
		scheduler:       sched,
		pipeline:        pl,
		prefetchLimiter: limiter,
		cleanupInterval: cleanupInterval,
		thresholds:      thresholds,
		baseCtx:         baseCtx,
		baseCancel:      baseCancel,
	}
	if opts.StatsExport != nil {
		pollerOpts := *opts.StatsExport
		if pollerOpts.Thresholds == nil {
			pollerOpts.Thresholds = &c.thresholds
		}
		if pollerOpts.Logger == nil {
			pollerOpts.Logger = logger
		}
		c.poller = stats.NewSnapshotPollerWithOpts(c, pollerOpts)
	}
	return c, nil
}

// Scheduler returns the scheduler that admits the client's network operations.
func (c *Client) Scheduler() *scheduler.Scheduler {
	return c.scheduler
}

// Pipeline returns the response pipeline.
func (c *Client) Pipeline() *pipeline.Pipeline {
	return c.pipeline
}

// Poller returns the snapshot poller, nil if stats export is not configured.
func (c *Client) Poller() *stats.SnapshotPoller {
	return c.poller
}

// Get is a shortcut for Do with the GET method.
func (c *Client) Get(ctx context.Context, rawURL string, opts CallOptions) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL}, opts)
}

// Do performs the call. The returned response is owned by the caller.
//
// Errors are *reqerr.Error: Timeout, NetworkFailure (transport errors, 5xx and 429 responses,
// after retries are exhausted), OperationFailure (other 4xx responses, cancellation),
// QueueCleared or ConfigurationError.
func (c *Client) Do(ctx context.Context, req Request, opts CallOptions) (*Response, error) {
	if req.URL == "" {
		return nil, reqerr.New(reqerr.KindConfiguration, errors.New("request URL is empty"))
	}
	method := req.method()
	key := opts.CacheKey
	if key == "" {
		key = cache.RequestKey(method, req.URL, req.Header, req.Body, nil)
	}
	cacheable := !opts.NoCache && c.policy.CacheableMethod(method, opts.CacheTTL)

	if cacheable {
		if resp, ok := c.responses.Get(key); ok {
			return c.deliver(resp, SourceCache, opts), nil
		}
		if opts.Predictive {
			if resp, confidence, ok := c.predictive.Lookup(key); ok {
				c.predictiveHits.Inc()
				c.logger.Debug("answered from predictive cache",
					log.String("target", method+" "+req.URL), log.Float64("confidence", confidence))
				return c.deliver(resp, SourcePredictive, opts), nil
			}
		}
	}

	fetch := func(fetchCtx context.Context) (*Response, error) {
		return c.fetch(fetchCtx, req, method, key, cacheable, opts)
	}
	if c.group == nil || opts.NoDedup {
		resp, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return c.deliver(resp, SourceNetwork, opts), nil
	}

	// Only responses that live in the cache may be joined after they settled, and never past the cache entry.
	resp, err, shared := c.group.DoWithOpts(ctx, key, fetch, cache.DoOptions[*Response]{
		Retain:      cacheable && opts.CacheTTL <= 0 && c.policy.CacheableMethod(method, 0),
		RetainUntil: func(r *Response) time.Time { return r.cachedUntil },
	})
	if err != nil {
		return nil, wrapGroupErr(err)
	}
	if shared {
		return c.deliver(resp, SourceShared, opts), nil
	}
	return c.deliver(resp, SourceNetwork, opts), nil
}

func wrapGroupErr(err error) error {
	if _, ok := reqerr.KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return reqerr.New(reqerr.KindTimeout, err)
	}
	return reqerr.New(reqerr.KindOperationFailure, err)
}

// deliver returns the caller's own copy, shaped if the caller opted in.
func (c *Client) deliver(resp *Response, src Source, opts CallOptions) *Response {
	out := resp.clone(src)
	if opts.AllowShaping {
		out.Body, out.Shaped = c.pipeline.Shape(out.Body, out.Header.Get("Content-Type"), out.Strategy, true)
	}
	return out
}

func (c *Client) fetch(
	ctx context.Context, req Request, method, key string, cacheable bool, opts CallOptions,
) (*Response, error) {
	endpoint := endpointOf(method, req.URL)
	strategy := c.pipeline.SelectStrategy(c.pipeline.Classify(endpoint), opts.Priority, -1)
	requestType := opts.RequestType
	if requestType == "" {
		requestType = DefaultRequestType
	}

	target := scheduler.NewTarget(method, req.URL, func(attemptCtx context.Context) (interface{}, error) {
		return c.exchange(httpclient.NewContextWithRequestType(attemptCtx, requestType), req, method, endpoint, strategy)
	})
	val, err := c.scheduler.Enqueue(ctx, target, scheduler.Options{
		Priority:    opts.Priority,
		Batchable:   opts.Batchable,
		BypassQueue: opts.BypassQueue,
		Timeout:     opts.Timeout,
	})
	if err != nil {
		return nil, err
	}
	resp := val.(*Response)

	if cacheable && c.policy.CacheableSize(len(resp.Body)) {
		ttl := c.policy.TTL(req.URL, opts.CacheTTL)
		resp.cachedUntil = time.Now().Add(ttl)
		c.responses.AddWithTTL(key, resp, ttl)
		c.predictive.Remember(key, endpoint, resp)
	}
	if len(opts.Related) > 0 && c.pipeline.Classify(endpoint) == pipeline.ClassFast {
		c.prefetch(endpoint, req.Header, opts.Related)
	}
	return resp, nil
}

// exchange performs one attempt over the transport.
func (c *Client) exchange(
	ctx context.Context, req Request, method, endpoint string, strategy pipeline.Strategy,
) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, reqerr.New(reqerr.KindConfiguration, fmt.Errorf("build request: %w", err))
	}
	for name, values := range req.Header {
		httpReq.Header[name] = append([]string(nil), values...)
	}
	c.pipeline.Prepare(httpReq, strategy)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	payload, err := c.pipeline.Read(ctx, httpResp, strategy)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	latency := time.Since(start)
	c.pipeline.Observe(endpoint, latency)

	header := httpResp.Header.Clone()
	if payload.Decompressed {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}

	switch status := httpResp.StatusCode; {
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return nil, reqerr.New(reqerr.KindNetworkFailure, &StatusError{StatusCode: status, Body: payload.Body})
	case status >= http.StatusBadRequest:
		return nil, reqerr.New(reqerr.KindOperationFailure, &StatusError{StatusCode: status, Body: payload.Body})
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     header,
		Body:       payload.Body,
		Strategy:   strategy,
		Streamed:   payload.Streamed,
		Latency:    latency,
	}, nil
}

// Snapshot returns the aggregate counters of the client.
func (c *Client) Snapshot() stats.Snapshot {
	sched := c.scheduler.Stats()
	cacheStats := c.responses.Stats()
	var deduplicated int64
	if c.group != nil {
		deduplicated = c.group.Deduplicated()
	}
	return stats.Snapshot{
		MaxConcurrent:  c.scheduler.MaxConcurrent(),
		Active:         int(sched.Active),
		Queued:         int(sched.Queued),
		Completed:      sched.Completed,
		Failed:         sched.Failed,
		Retries:        sched.Retries,
		AverageLatency: sched.AverageLatency,
		CacheEntries:   cacheStats.Entries,
		CacheHits:      cacheStats.Hits,
		CacheMisses:    cacheStats.Misses,
		Deduplicated:   deduplicated,
		PredictiveHits: c.predictiveHits.Load(),
		Prefetched:     c.prefetched.Load(),
	}
}

// Stats is an alias of Snapshot.
func (c *Client) Stats() stats.Snapshot {
	return c.Snapshot()
}

// Health classifies the current snapshot. It is advisory and never affects the client behavior.
func (c *Client) Health() stats.Health {
	return stats.Assess(c.Snapshot(), c.thresholds)
}

// ClearQueue fails every operation that has not started yet with QueueCleared and returns their number.
func (c *Client) ClearQueue() int {
	n := c.scheduler.Clear()
	if n > 0 {
		c.logger.Warn("scheduler queue cleared", log.Int("operations", n))
	}
	return n
}

// Invalidate drops everything remembered for the key.
func (c *Client) Invalidate(key string) {
	c.responses.Remove(key)
	c.predictive.Remove(key)
	if c.group != nil {
		c.group.Forget(key)
	}
}

// InvalidateRequest drops everything remembered for the request.
func (c *Client) InvalidateRequest(req Request) {
	c.Invalidate(cache.RequestKey(req.method(), req.URL, req.Header, req.Body, nil))
}

// InvalidatePrefix drops cached responses whose key starts with the prefix.
// It is meaningful for explicit CacheKey values and returns the number of removed responses.
func (c *Client) InvalidatePrefix(prefix string) int {
	match := func(key string) bool { return strings.HasPrefix(key, prefix) }
	n := c.responses.RemoveFunc(match)
	c.predictive.RemoveFunc(match)
	return n
}

// PurgeCache drops all cached and predictive responses.
func (c *Client) PurgeCache() {
	c.responses.Purge()
	c.predictive.Purge()
}

// Run sweeps expired cache entries periodically (and exports stats if configured) until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	sweeper := service.NewPeriodicWorkerWithOpts(service.WorkerFunc(func(ctx context.Context) error {
		c.sweep()
		return nil
	}), c.cleanupInterval, service.PeriodicWorkerOpts{
		Name:         "cache-sweeper",
		InitialDelay: c.cleanupInterval,
		Logger:       c.logger,
	})
	workers := []service.Worker{sweeper}
	if c.poller != nil {
		workers = append(workers, service.WorkerFunc(c.poller.Run))
	}
	return service.RunConcurrently(ctx, workers...)
}

func (c *Client) sweep() {
	responses := c.responses.DeleteExpired()
	predictive := c.predictive.DeleteExpired()
	retained := 0
	if c.group != nil {
		retained = c.group.DeleteExpired()
	}
	if responses+predictive+retained > 0 {
		c.logger.Debug("expired cache entries removed",
			log.Int("responses", responses), log.Int("predictive", predictive), log.Int("dedup", retained))
	}
}

// Close stops background prefetching. The client must not be used after Close.
func (c *Client) Close() {
	c.baseCancel()
}
