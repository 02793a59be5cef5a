/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Payload is a response body read by the pipeline.
type Payload struct {
	Body         []byte
	Streamed     bool
	Chunks       int
	Decompressed bool
}

// Prepare adjusts the outgoing request for the strategy.
// Under aggressive-compression gzip is requested explicitly, so Read decodes the body itself.
func (p *Pipeline) Prepare(req *http.Request, strategy Strategy) {
	if strategy == StrategyAggressiveCompression && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip")
	}
}

// Read consumes and closes the response body.
// Bodies declared larger than the stream threshold, or read under stream-first, are consumed chunk by chunk,
// yielding the processor periodically and stopping as soon as ctx is done.
func (p *Pipeline) Read(ctx context.Context, resp *http.Response, strategy Strategy) (payload Payload, err error) {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close response body: %w", closeErr)
		}
	}()

	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") && !resp.Uncompressed {
		gr, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return Payload{}, fmt.Errorf("open gzip body: %w", gzErr)
		}
		defer func() { _ = gr.Close() }()
		r = gr
		payload.Decompressed = true
	}

	if strategy != StrategyStreamFirst && resp.ContentLength <= int64(p.cfg.StreamThreshold) {
		if payload.Body, err = io.ReadAll(r); err != nil {
			return Payload{}, fmt.Errorf("read body: %w", err)
		}
		return payload, nil
	}

	payload.Streamed = true
	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	chunk := make([]byte, int(p.cfg.StreamChunkSize))
	for {
		if err = ctx.Err(); err != nil {
			return Payload{}, err
		}
		n, readErr := io.ReadFull(r, chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			payload.Chunks++
			if payload.Chunks%yieldEvery == 0 {
				runtime.Gosched()
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return Payload{}, fmt.Errorf("read body chunk: %w", readErr)
		}
	}
	payload.Body = buf.Bytes()
	return payload, nil
}
