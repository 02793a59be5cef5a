/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package client

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mlandesman/sams-reqkit/config"
)

func TestLoadConfigFromReader(t *testing.T) {
	t.Setenv("REQKIT_SCHEDULER_MAXCONCURRENT", "3")

	data := `
scheduler:
  maxConcurrent: 8
  timeout: 5s
pipeline:
  fastThreshold: 100ms
cache:
  maxEntries: 500
  rules:
    - pattern: "*/units/*"
      ttl: 1m
transport:
  timeout: 20s
prefetch:
  maxPerWindow: 2
  window: 500ms
`
	cfg, err := LoadConfigFromReader(bytes.NewBufferString(data), config.DataTypeYAML, "REQKIT")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Scheduler.MaxConcurrent)
	require.Equal(t, 5*time.Second, cfg.Scheduler.Timeout)
	require.Equal(t, 100*time.Millisecond, cfg.Pipeline.FastThreshold)
	require.Equal(t, 500, cfg.Cache.MaxEntries)
	require.Len(t, cfg.Cache.Rules, 1)
	require.Equal(t, time.Minute, cfg.Cache.Rules[0].TTL)
	require.Equal(t, 20*time.Second, cfg.Transport.Timeout)
	require.Equal(t, &PrefetchConfig{
		Enabled:      true,
		MaxPerWindow: 2,
		Window:       500 * time.Millisecond,
		MaxEndpoints: DefaultPrefetchMaxEndpoints,
	}, cfg.Prefetch)

	_, err = New(cfg)
	require.NoError(t, err)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reqkit.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"prefetch": {"enabled": false}}`), 0o600))

	cfg, err := LoadConfigFromFile(path, config.DataTypeJSON, "")
	require.NoError(t, err)
	require.False(t, cfg.Prefetch.Enabled)
	require.Equal(t, NewDefaultConfig().Scheduler, cfg.Scheduler)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "scheduler", data: "scheduler:\n  maxConcurrent: -1\n", wantErr: "scheduler.maxConcurrent"},
		{name: "prefetch rate", data: "prefetch:\n  maxPerWindow: 0\n", wantErr: "prefetch.maxPerWindow"},
		{name: "prefetch window", data: "prefetch:\n  window: 0s\n", wantErr: "prefetch.window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromReader(bytes.NewBufferString(tt.data), config.DataTypeYAML, "")
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
