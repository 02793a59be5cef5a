/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mlandesman/sams-reqkit/pipeline"
)

// Source tells where a response came from.
type Source string

// Response sources.
const (
	SourceNetwork    Source = "network"
	SourceCache      Source = "cache"
	SourcePredictive Source = "predictive"
	SourceShared     Source = "shared"
)

// Request describes an outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Response is the interpreted result of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Strategy is the pipeline strategy the response was processed with.
	Strategy pipeline.Strategy
	// Shaped is true if Body was reduced by lossy payload shaping.
	Shaped bool
	// Streamed is true if Body was consumed in chunks.
	Streamed bool

	Source  Source
	Latency time.Duration

	// cachedUntil is the expiry of the response cache entry, zero if the response was not cached.
	cachedUntil time.Time
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// clone returns a copy that a caller may modify without affecting cached or shared values.
func (r *Response) clone(src Source) *Response {
	c := *r
	c.Header = r.Header.Clone()
	c.Body = append([]byte(nil), r.Body...)
	c.Source = src
	return &c
}

// StatusError is returned (wrapped into *reqerr.Error) for responses with an error status code.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

// endpointOf returns the identity latencies are tracked by: method, host and path without query.
func endpointOf(method, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return method + " " + rawURL
	}
	return method + " " + strings.ToLower(u.Host) + u.Path
}
