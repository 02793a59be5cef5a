/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshot_Rates(t *testing.T) {
	require.Equal(t, 0.0, Snapshot{}.FailureRate())
	require.Equal(t, 0.0, Snapshot{}.RetryRatio())
	require.Equal(t, 0.0, Snapshot{}.CacheHitRate())

	s := Snapshot{Completed: 6, Failed: 2, Retries: 4, CacheHits: 3, CacheMisses: 1}
	require.Equal(t, 0.25, s.FailureRate())
	require.Equal(t, 0.5, s.RetryRatio())
	require.Equal(t, 0.75, s.CacheHitRate())
}

func TestAssess(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name                string
		snapshot            Snapshot
		wantStatus          Status
		wantRecommendations int
	}{
		{
			name:       "idle",
			snapshot:   Snapshot{MaxConcurrent: 6},
			wantStatus: StatusHealthy,
		},
		{
			name:       "busy but fine",
			snapshot:   Snapshot{MaxConcurrent: 6, Active: 6, Queued: 6, Completed: 100, Failed: 2, Retries: 5, AverageLatency: 300 * time.Millisecond},
			wantStatus: StatusHealthy,
		},
		{
			name:                "few samples are not judged",
			snapshot:            Snapshot{MaxConcurrent: 6, Completed: 1, Failed: 3},
			wantStatus:          StatusHealthy,
			wantRecommendations: 0,
		},
		{
			name:                "degraded by failures",
			snapshot:            Snapshot{MaxConcurrent: 6, Completed: 85, Failed: 15},
			wantStatus:          StatusDegraded,
			wantRecommendations: 1,
		},
		{
			name:                "degraded by queue depth",
			snapshot:            Snapshot{MaxConcurrent: 6, Queued: 12},
			wantStatus:          StatusDegraded,
			wantRecommendations: 1,
		},
		{
			name:                "unhealthy by latency, degraded by retries",
			snapshot:            Snapshot{MaxConcurrent: 6, Completed: 10, Retries: 3, AverageLatency: 6 * time.Second},
			wantStatus:          StatusUnhealthy,
			wantRecommendations: 2,
		},
		{
			name:                "unhealthy by everything",
			snapshot:            Snapshot{MaxConcurrent: 2, Queued: 10, Completed: 5, Failed: 5, Retries: 10, AverageLatency: 10 * time.Second},
			wantStatus:          StatusUnhealthy,
			wantRecommendations: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Assess(tt.snapshot, th)
			require.Equal(t, tt.wantStatus, h.Status)
			require.Len(t, h.Recommendations, tt.wantRecommendations)
			require.Equal(t, tt.snapshot, h.Snapshot)
		})
	}
}
