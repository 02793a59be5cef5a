/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mlandesman/sams-reqkit/config"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			data: "{}",
			check: func(t *testing.T, cfg *Config) {
				want := NewDefaultConfig()
				want.keyPrefix = cfg.keyPrefix
				require.Equal(t, want, cfg)
			},
		},
		{
			name: "all set",
			data: `
pipeline:
  historySize: 50
  fastThreshold: 100ms
  slowThreshold: 2s
  streamThreshold: 1MB
  streamChunkSize: 64KB
  predictive:
    confidenceThreshold: 0.9
    ttl: 1m
    maxEntries: 20
  shaping:
    maxDepth: 3
    maxStringLength: 256
    maxArrayLength: 10
`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, 50, cfg.HistorySize)
				require.Equal(t, 100*time.Millisecond, cfg.FastThreshold)
				require.Equal(t, 2*time.Second, cfg.SlowThreshold)
				require.Equal(t, config.ByteSize(1024*1024), cfg.StreamThreshold)
				require.Equal(t, config.ByteSize(64*1024), cfg.StreamChunkSize)
				require.Equal(t, PredictiveConfig{ConfidenceThreshold: 0.9, TTL: time.Minute, MaxEntries: 20}, cfg.Predictive)
				require.Equal(t, ShapingConfig{MaxDepth: 3, MaxStringLength: 256, MaxArrayLength: 10}, cfg.Shaping)
			},
		},
		{name: "slow below fast", data: "pipeline:\n  fastThreshold: 2s\n  slowThreshold: 1s\n", wantErr: "pipeline.slowThreshold"},
		{name: "confidence out of range", data: "pipeline:\n  predictive:\n    confidenceThreshold: 1.5\n", wantErr: "pipeline.predictive.confidenceThreshold"},
		{name: "zero shaping depth", data: "pipeline:\n  shaping:\n    maxDepth: 0\n", wantErr: "pipeline.shaping.maxDepth"},
		{name: "zero history", data: "pipeline:\n  historySize: 0\n", wantErr: "pipeline.historySize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("")
			err := config.NewLoader(config.NewViperAdapter()).
				LoadFromReader(bytes.NewBufferString(tt.data), config.DataTypeYAML, cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
