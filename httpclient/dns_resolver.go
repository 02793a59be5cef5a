/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net"
	"time"

	"go.uber.org/atomic"
)

const defaultDNSDialTimeout = 5 * time.Second

// NewDNSResolver returns a pure-Go resolver that queries the given name servers ("host:port")
// in round-robin order. Every query dials UDP with the given timeout.
func NewDNSResolver(servers []string, timeout time.Duration) *net.Resolver {
	if timeout <= 0 {
		timeout = defaultDNSDialTimeout
	}
	addrs := append([]string(nil), servers...)
	idx := atomic.NewUint32(0)
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			addr := addrs[idx.Inc()%uint32(len(addrs))] //nolint:gosec // server count is small
			return d.DialContext(ctx, "udp", addr)
		},
	}
}

// dialerWithResolver mirrors the dialer of http.DefaultTransport.
func dialerWithResolver(r *net.Resolver) *net.Dialer {
	return &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second, Resolver: r}
}
