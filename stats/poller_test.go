/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package stats

import (
	"context"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/mlandesman/sams-reqkit/log"
	"github.com/mlandesman/sams-reqkit/log/logtest"
)

func TestSnapshotPoller_Poll(t *testing.T) {
	snapshot := Snapshot{MaxConcurrent: 6, Active: 3, Queued: 1, Completed: 10, CacheHits: 7, AverageLatency: 250 * time.Millisecond}
	logger := logtest.NewRecorder()
	p := NewSnapshotPollerWithOpts(ProviderFunc(func() Snapshot { return snapshot }), SnapshotPollerOpts{Logger: logger})

	h := p.Poll()
	require.Equal(t, StatusHealthy, h.Status)
	require.Equal(t, 3.0, promtestutil.ToFloat64(p.Values.WithLabelValues("active")))
	require.Equal(t, 7.0, promtestutil.ToFloat64(p.Values.WithLabelValues("cache_hits")))
	require.Equal(t, 0.25, promtestutil.ToFloat64(p.Values.WithLabelValues("average_latency_seconds")))
	require.Equal(t, 0.0, promtestutil.ToFloat64(p.HealthStatus))
	require.Empty(t, logger.Entries())

	snapshot.Queued = 60
	h = p.Poll()
	require.Equal(t, StatusUnhealthy, h.Status)
	require.Equal(t, 2.0, promtestutil.ToFloat64(p.HealthStatus))
	entry, found := logger.FindEntry("request kit health changed")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.Level)

	// No change, no new log entry.
	p.Poll()
	require.Len(t, logger.Entries(), 1)
}

func TestSnapshotPoller_Run(t *testing.T) {
	var polls atomic.Int32
	p := NewSnapshotPollerWithOpts(ProviderFunc(func() Snapshot {
		polls.Inc()
		return Snapshot{}
	}), SnapshotPollerOpts{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	require.GreaterOrEqual(t, int(polls.Load()), 3)
}
