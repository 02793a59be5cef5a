/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient builds the http.Client the scheduler executes requests with.
// The transport is a chain of round trippers: request ID, rate limiting, metrics, and logging.
// Retries are not done here; the scheduler re-queues failed attempts itself.
package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mlandesman/sams-reqkit/log"
)

// Opts provides options for NewWithOpts and MustWithOpts functions.
type Opts struct {
	// Delegate is the innermost RoundTripper. A clone of http.DefaultTransport is used by default.
	Delegate http.RoundTripper

	// LoggerProvider is a function that provides a context-specific logger.
	// If nil, the logger from the context is used, and Logger if there is none.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// Logger is used when neither LoggerProvider nor the request context gives one.
	Logger log.FieldLogger

	// RequestIDProvider is a function that provides a request ID.
	RequestIDProvider func(ctx context.Context) string

	// Collector is a metrics collector.
	Collector MetricsCollector
}

// New creates a new http.Client configured by cfg.
func New(cfg *Config) (*http.Client, error) {
	return NewWithOpts(cfg, Opts{})
}

// Must creates a new http.Client configured by cfg and panics if any error occurs.
func Must(cfg *Config) *http.Client {
	return MustWithOpts(cfg, Opts{})
}

// NewWithOpts creates a new http.Client configured by cfg with options.
func NewWithOpts(cfg *Config, opts Opts) (*http.Client, error) {
	delegate := opts.Delegate
	if delegate == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.MaxIdleConnsPerHost > 0 {
			tr.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		if len(cfg.DNS.Servers) > 0 {
			tr.DialContext = dialerWithResolver(NewDNSResolver(cfg.DNS.Servers, cfg.DNS.Timeout)).DialContext
		}
		delegate = tr
	}

	if cfg.Log.Enabled {
		logOpts := cfg.Log.TransportOpts()
		logOpts.LoggerProvider = opts.LoggerProvider
		if logOpts.LoggerProvider == nil && opts.Logger != nil {
			fallback := opts.Logger
			logOpts.LoggerProvider = func(ctx context.Context) log.FieldLogger {
				if l := GetLoggerFromContext(ctx); l != nil {
					return l
				}
				return fallback
			}
		}
		delegate = NewLoggingRoundTripperWithOpts(delegate, logOpts)
	}

	if cfg.Metrics.Enabled && opts.Collector != nil {
		delegate = NewMetricsRoundTripper(delegate, opts.Collector)
	}

	if cfg.RateLimits.Enabled {
		rl, err := NewRateLimitingRoundTripperWithOpts(delegate, cfg.RateLimits.Limit, cfg.RateLimits.TransportOpts())
		if err != nil {
			return nil, fmt.Errorf("create rate limiting round tripper: %w", err)
		}
		delegate = rl
	}

	delegate = NewRequestIDRoundTripperWithOpts(delegate, RequestIDRoundTripperOpts{
		RequestIDProvider: opts.RequestIDProvider,
	})

	return &http.Client{Transport: delegate, Timeout: cfg.Timeout}, nil
}

// MustWithOpts creates a new http.Client configured by cfg with options and panics if any error occurs.
func MustWithOpts(cfg *Config, opts Opts) *http.Client {
	client, err := NewWithOpts(cfg, opts)
	if err != nil {
		panic(err)
	}
	return client
}
