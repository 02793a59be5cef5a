/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mlandesman/sams-reqkit/scheduler"
)

func TestResolveStrategy(t *testing.T) {
	op := func(id string, p scheduler.Priority, deps ...string) Operation {
		return Operation{ID: id, Priority: p, Dependencies: deps, Exec: value(id)}
	}
	tests := []struct {
		name string
		ops  []Operation
		want Strategy
	}{
		{name: "no operations", want: StrategyParallel},
		{name: "independent", ops: []Operation{op("a", scheduler.PriorityNormal), op("b", scheduler.PriorityCritical)}, want: StrategyParallel},
		{
			name: "mostly critical",
			ops: []Operation{
				op("a", scheduler.PriorityCritical), op("b", scheduler.PriorityCritical), op("c", scheduler.PriorityLow),
			},
			want: StrategySequential,
		},
		{
			name: "dependencies win",
			ops: []Operation{
				op("a", scheduler.PriorityCritical), op("b", scheduler.PriorityCritical, "a"),
			},
			want: StrategyMixed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resolveStrategy(tt.ops))
		})
	}
}

func TestParseStrategies(t *testing.T) {
	s, err := ParseStrategy("Mixed")
	require.NoError(t, err)
	require.Equal(t, StrategyMixed, s)
	s, err = ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, StrategyAuto, s)
	_, err = ParseStrategy("random")
	require.Error(t, err)

	fs, err := ParseFailureStrategy("fail-fast")
	require.NoError(t, err)
	require.Equal(t, FailureFast, fs)
	require.Equal(t, "retry-failed", FailureRetryFailed.String())
	_, err = ParseFailureStrategy("ignore")
	require.Error(t, err)
}

func TestFindCycle(t *testing.T) {
	ops := []Operation{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a", "d"}},
		{ID: "c", Dependencies: []string{"b"}},
		{ID: "d", Dependencies: []string{"c"}},
	}
	index := map[string]int{"a": 0, "b": 1, "c": 2, "d": 3}
	require.Equal(t, []string{"b", "d", "c", "b"}, findCycle(ops, index))

	ops[1].Dependencies = []string{"a"}
	require.Nil(t, findCycle(ops, index))
}

func TestThrottlerDelay(t *testing.T) {
	var memory uint64
	active := 0
	th := &throttler{
		cfg: ThrottleConfig{
			Enabled:         true,
			MemoryThreshold: 100,
			ActiveThreshold: 10,
			BaseDelay:       100 * time.Millisecond,
			MaxDelay:        300 * time.Millisecond,
		},
		memUsage: func() uint64 { return memory },
		active:   func() int { return active },
	}

	require.Zero(t, th.delay(4, scheduler.PriorityNormal), "no pressure")

	memory = 101
	tests := []struct {
		priority scheduler.Priority
		want     time.Duration
	}{
		{scheduler.PriorityCritical, 50 * time.Millisecond},
		{scheduler.PriorityHigh, 100 * time.Millisecond},
		{scheduler.PriorityNormal, 200 * time.Millisecond},
		{scheduler.PriorityLow, 300 * time.Millisecond}, // capped
	}
	for _, tt := range tests {
		t.Run(tt.priority.String(), func(t *testing.T) {
			require.Equal(t, tt.want, th.delay(4, tt.priority))
		})
	}

	memory = 0
	active = 11
	require.Equal(t, 100*time.Millisecond, th.delay(1, scheduler.PriorityNormal))

	th.cfg.Enabled = false
	require.Zero(t, th.delay(4, scheduler.PriorityNormal))
}

func TestStateTransitions(t *testing.T) {
	pt := newProgressTracker("b", []Operation{{ID: "a"}, {ID: "b"}})
	require.False(t, pt.transition("a", StateCompleted, nil), "pending cannot complete without running")
	require.True(t, pt.transition("a", StateRunning, nil))
	require.False(t, pt.transition("a", StateCancelled, nil), "running cannot be cancelled")
	require.True(t, pt.transition("a", StateCompleted, nil))
	require.False(t, pt.transition("a", StateFailed, nil), "terminal state is final")
	require.True(t, pt.transition("b", StateCancelled, errors.New("dependency failed")))
	require.False(t, pt.transition("b", StateRunning, nil))

	p := pt.snapshot()
	require.Equal(t, 1, p.Completed)
	require.Equal(t, 1, p.Cancelled)
	require.Equal(t, 1.0, p.Fraction())
	require.Equal(t, 100.0, p.Operations["a"].Percent)
	require.False(t, p.Operations["a"].StartedAt.IsZero())
	require.Empty(t, p.Operations["a"].Message)
	require.Equal(t, "dependency failed", p.Operations["b"].Message)
	require.Zero(t, p.Operations["b"].Percent)
}
