/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlandesman/sams-reqkit/scheduler"
)

func TestPipeline_SelectStrategy(t *testing.T) {
	p, err := New(NewDefaultConfig())
	require.NoError(t, err)

	tests := []struct {
		name     string
		class    Class
		priority scheduler.Priority
		size     int64
		want     Strategy
	}{
		{name: "critical always streams", class: ClassFast, priority: scheduler.PriorityCritical, size: 10, want: StrategyStreamFirst},
		{name: "large declared size streams", class: ClassFast, priority: scheduler.PriorityNormal, size: DefaultStreamThreshold + 1, want: StrategyStreamFirst},
		{name: "slow", class: ClassSlow, priority: scheduler.PriorityHigh, size: -1, want: StrategyAggressiveCompression},
		{name: "fast", class: ClassFast, priority: scheduler.PriorityLow, size: -1, want: StrategySpeedFirst},
		{name: "typical", class: ClassTypical, priority: scheduler.PriorityNormal, size: DefaultStreamThreshold, want: StrategyBalanced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, p.SelectStrategy(tt.class, tt.priority, tt.size))
		})
	}

	require.True(t, StrategySpeedFirst.AllowsShaping())
	require.True(t, StrategyAggressiveCompression.AllowsShaping())
	require.False(t, StrategyBalanced.AllowsShaping())
	require.False(t, StrategyStreamFirst.AllowsShaping())
}
