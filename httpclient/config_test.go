/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

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
			data: `{}`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, time.Duration(0), cfg.Timeout)
				require.Equal(t, defaultMaxIdleConnsPerHost, cfg.MaxIdleConnsPerHost)
				require.False(t, cfg.RateLimits.Enabled)
				require.True(t, cfg.Log.Enabled)
				require.Equal(t, LoggingModeFailed, cfg.Log.Mode)
				require.True(t, cfg.Metrics.Enabled)
				require.Empty(t, cfg.DNS.Servers)
				require.Equal(t, defaultDNSDialTimeout, cfg.DNS.Timeout)
			},
		},
		{
			name: "all set",
			data: `
transport:
  timeout: 10s
  maxIdleConnsPerHost: 3
  rateLimits:
    enabled: true
    limit: 20
    burst: 5
    waitTimeout: 2s
    adaptation:
      responseHeaderName: X-Rate-Limit
      slackPercent: 10
  log:
    mode: all
    slowRequestThreshold: 1s
  metrics:
    enabled: false
  dns:
    servers: ["10.0.0.1:53", "10.0.0.2:53"]
    timeout: 1s
`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, 10*time.Second, cfg.Timeout)
				require.Equal(t, 3, cfg.MaxIdleConnsPerHost)
				require.Equal(t, RateLimitConfig{
					Enabled:     true,
					Limit:       20,
					Burst:       5,
					WaitTimeout: 2 * time.Second,
					Adaptation:  RateLimitingRoundTripperAdaptation{ResponseHeaderName: "X-Rate-Limit", SlackPercent: 10},
				}, cfg.RateLimits)
				require.Equal(t, LogConfig{Enabled: true, Mode: LoggingModeAll, SlowRequestThreshold: time.Second}, cfg.Log)
				require.False(t, cfg.Metrics.Enabled)
				require.Equal(t, DNSConfig{Servers: []string{"10.0.0.1:53", "10.0.0.2:53"}, Timeout: time.Second}, cfg.DNS)
			},
		},
		{
			name:    "negative timeout",
			data:    "transport:\n  timeout: -1s\n",
			wantErr: "transport.timeout",
		},
		{
			name:    "non-positive rate limit",
			data:    "transport:\n  rateLimits:\n    enabled: true\n    limit: 0\n",
			wantErr: "transport.rateLimits.limit",
		},
		{
			name:    "unknown log mode",
			data:    "transport:\n  log:\n    mode: verbose\n",
			wantErr: "transport.log.mode",
		},
		{
			name:    "dns server without port",
			data:    "transport:\n  dns:\n    servers: [\"10.0.0.1\"]\n",
			wantErr: "transport.dns.servers",
		},
		{
			name:    "negative dns timeout",
			data:    "transport:\n  dns:\n    timeout: -1s\n",
			wantErr: "transport.dns.timeout",
		},
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
