/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// RoundTripperFunc is an adapter to allow the use of ordinary functions as http.RoundTripper.
type RoundTripperFunc func(r *http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// NewResponse creates a response with the given status code and body.
func NewResponse(r *http.Request, status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}

// TransportHandler produces a response for a request.
type TransportHandler func(r *http.Request, call int) (*http.Response, error)

// Transport is a fake http.RoundTripper with per-path handlers.
// It counts calls and tracks the peak number of concurrently executing requests.
type Transport struct {
	// Delay is applied to every request before the handler is called. The request context is honoured.
	Delay time.Duration

	mu       sync.Mutex
	handlers map[string]TransportHandler
	calls    map[string]int
	fallback TransportHandler

	inFlight atomic.Int32
	peak     atomic.Int32
	total    atomic.Int32
}

// NewTransport creates a new Transport answering 404 for unknown paths.
func NewTransport() *Transport {
	return &Transport{
		handlers: make(map[string]TransportHandler),
		calls:    make(map[string]int),
		fallback: func(r *http.Request, _ int) (*http.Response, error) {
			return NewResponse(r, http.StatusNotFound, "not found", nil), nil
		},
	}
}

// Handle registers a handler for the URL path.
func (t *Transport) Handle(path string, h TransportHandler) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[path] = h
	return t
}

// HandleStatic registers a handler that always answers with the given status and body.
func (t *Transport) HandleStatic(path string, status int, body string) *Transport {
	return t.Handle(path, func(r *http.Request, _ int) (*http.Response, error) {
		return NewResponse(r, status, body, http.Header{"Content-Type": {"application/json"}}), nil
	})
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	n := t.inFlight.Inc()
	defer t.inFlight.Dec()
	for {
		peak := t.peak.Load()
		if n <= peak || t.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	t.total.Inc()

	t.mu.Lock()
	t.calls[r.URL.Path]++
	call := t.calls[r.URL.Path]
	h, ok := t.handlers[r.URL.Path]
	if !ok {
		h = t.fallback
	}
	t.mu.Unlock()

	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-r.Context().Done():
			return nil, r.Context().Err()
		}
	}
	return h(r, call)
}

// Calls returns the number of requests made to the path.
func (t *Transport) Calls(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[path]
}

// TotalCalls returns the number of all requests made.
func (t *Transport) TotalCalls() int {
	return int(t.total.Load())
}

// PeakConcurrency returns the maximum number of requests that were executing at the same time.
func (t *Transport) PeakConcurrency() int {
	return int(t.peak.Load())
}
