/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package pipeline interprets responses: it keeps per-endpoint latency statistics, selects a processing strategy,
// reads bodies (streaming and decompressing them when needed), optionally shapes JSON payloads,
// and answers repeated requests from a confidence-scored predictive cache.
package pipeline

import (
	"errors"
	"time"

	"github.com/mlandesman/sams-reqkit/log"
	"github.com/mlandesman/sams-reqkit/reqerr"
)

// yieldEvery is how many streamed chunks are read between cooperative yields.
const yieldEvery = 4

// Opts represents options for the Pipeline.
type Opts struct {
	Logger log.FieldLogger
}

// Pipeline is the response processing pipeline.
type Pipeline struct {
	cfg     Config
	history *LatencyHistory
	logger  log.FieldLogger
}

// New creates a new Pipeline.
func New(cfg *Config) (*Pipeline, error) {
	return NewWithOpts(cfg, Opts{})
}

// NewWithOpts creates a new Pipeline with options.
func NewWithOpts(cfg *Config, opts Opts) (*Pipeline, error) {
	if cfg.HistorySize <= 0 || cfg.StreamChunkSize == 0 || cfg.SlowThreshold < cfg.FastThreshold {
		return nil, reqerr.New(reqerr.KindConfiguration, errors.New("invalid pipeline configuration"))
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Pipeline{
		cfg:     *cfg,
		history: NewLatencyHistory(cfg.HistorySize, cfg.FastThreshold, cfg.SlowThreshold),
		logger:  opts.Logger,
	}, nil
}

// History returns the latency history.
func (p *Pipeline) History() *LatencyHistory {
	return p.history
}

// Observe records the latency of a response from the endpoint.
func (p *Pipeline) Observe(endpoint string, d time.Duration) {
	p.history.Record(endpoint, d)
}

// Classify classifies the endpoint by its recent latencies.
func (p *Pipeline) Classify(endpoint string) Class {
	return p.history.Classify(endpoint)
}

// Shape applies lossy payload shaping to a JSON body if the caller allowed it and the strategy permits it.
// Other bodies are returned untouched.
func (p *Pipeline) Shape(body []byte, contentType string, strategy Strategy, allowed bool) ([]byte, bool) {
	if !allowed || !strategy.AllowsShaping() || !isJSON(contentType) {
		return body, false
	}
	shaped, changed, err := ShapeJSON(body, p.cfg.Shaping)
	if err != nil {
		p.logger.Debug("payload shaping skipped", log.Error(err))
		return body, false
	}
	return shaped, changed
}
