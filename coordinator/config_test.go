/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

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
		want    *Config
	}{
		{
			name: "defaults",
			data: "{}",
			want: NewDefaultConfig(),
		},
		{
			name: "all set",
			data: `
coordinator:
  maxParallel: 4
  defaultTimeout: 10s
  progressInterval: 1s
  throttle:
    enabled: false
    memoryThreshold: 1G
    activeThreshold: 20
    baseDelay: 10ms
    maxDelay: 1s
`,
			want: &Config{
				MaxParallel:      4,
				DefaultTimeout:   10 * time.Second,
				ProgressInterval: time.Second,
				Throttle: ThrottleConfig{
					Enabled:         false,
					MemoryThreshold: 1 << 30,
					ActiveThreshold: 20,
					BaseDelay:       10 * time.Millisecond,
					MaxDelay:        time.Second,
				},
			},
		},
		{name: "zero parallel", data: "coordinator:\n  maxParallel: 0\n", wantErr: "coordinator.maxParallel"},
		{name: "invalid timeout", data: "coordinator:\n  defaultTimeout: later\n", wantErr: "coordinator.defaultTimeout"},
		{name: "max delay below base", data: "coordinator:\n  throttle:\n    maxDelay: 1ms\n", wantErr: "coordinator.throttle.maxDelay"},
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
			require.Equal(t, tt.want, cfg)
		})
	}
}

func TestNewWithOpts_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.MaxParallel = 0
	_, err := New(cfg)
	require.Error(t, err)
}
