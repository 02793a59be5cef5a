/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func listenUDP(t *testing.T) (addr string, hits *atomic.Int32) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	hits = atomic.NewInt32(0)
	go func() {
		buf := make([]byte, 512)
		for {
			if _, _, readErr := conn.ReadFrom(buf); readErr != nil {
				return
			}
			hits.Inc()
		}
	}()
	return conn.LocalAddr().String(), hits
}

func TestNewDNSResolver(t *testing.T) {
	addr1, hits1 := listenUDP(t)
	addr2, hits2 := listenUDP(t)

	r := NewDNSResolver([]string{addr1, addr2}, time.Second)
	require.True(t, r.PreferGo)

	// Nobody answers, so every lookup fails, but the queries must reach both servers.
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		_, err := r.LookupHost(ctx, "service.reqkit-test")
		cancel()
		require.Error(t, err)
	}
	require.Eventually(t, func() bool {
		return hits1.Load() > 0 && hits2.Load() > 0
	}, time.Second, 10*time.Millisecond)
}

func TestNewWithOpts_DNSServers(t *testing.T) {
	if os.Getenv("HTTP_PROXY") != "" || os.Getenv("http_proxy") != "" {
		t.Skip("requests go through a proxy")
	}
	addr, hits := listenUDP(t)
	cfg := NewDefaultConfig()
	cfg.Log.Enabled = false
	cfg.DNS = DNSConfig{Servers: []string{addr}, Timeout: time.Second}
	client, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://service.reqkit-test/", http.NoBody)
	require.NoError(t, err)
	_, err = client.Do(req) //nolint:bodyclose // request never succeeds
	require.Error(t, err)
	require.Eventually(t, func() bool { return hits.Load() > 0 }, time.Second, 10*time.Millisecond)
}
