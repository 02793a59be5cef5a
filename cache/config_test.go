/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

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
cache:
  maxEntries: 500
  maxEntrySize: 256KB
  defaultTTL: 1m
  cleanupInterval: 10s
  rules:
    - pattern: "/units/*"
      ttl: 10m
    - pattern: "/reports/*/pdf"
      ttl: 1h
  dedup:
    enabled: false
    window: 2s
    maxRetained: 10
`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, 500, cfg.MaxEntries)
				require.Equal(t, config.ByteSize(256*1024), cfg.MaxEntrySize)
				require.Equal(t, time.Minute, cfg.DefaultTTL)
				require.Equal(t, 10*time.Second, cfg.CleanupInterval)
				require.Equal(t, []TTLRule{
					{Pattern: "/units/*", TTL: 10 * time.Minute},
					{Pattern: "/reports/*/pdf", TTL: time.Hour},
				}, cfg.Rules)
				require.Equal(t, DedupConfig{Enabled: false, Window: 2 * time.Second, MaxRetained: 10}, cfg.Dedup)

				policy, err := cfg.Policy()
				require.NoError(t, err)
				require.Equal(t, 10*time.Minute, policy.TTL("https://example.com/units/42", 0))
				require.Equal(t, time.Minute, policy.TTL("https://example.com/owners", 0))
			},
		},
		{name: "zero entries", data: "cache:\n  maxEntries: 0\n", wantErr: "cache.maxEntries"},
		{name: "rule without ttl", data: "cache:\n  rules:\n    - pattern: /a\n", wantErr: "cache.rules"},
		{name: "negative dedup window", data: "cache:\n  dedup:\n    window: -1s\n", wantErr: "cache.dedup.window"},
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
