/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestGroup_CollapsesConcurrentCalls(t *testing.T) {
	g, err := NewGroup[string, int](GroupOptions{})
	require.NoError(t, err)

	var executions atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		executions.Inc()
		<-release
		return 42, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]int, callers)
	sharedFlags := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err, shared := g.Do(context.Background(), "key", fn)
			assert.NoError(t, err)
			results[i], sharedFlags[i] = v, shared
		}(i)
	}
	require.Eventually(t, func() bool { return g.Waiters("key") == callers }, time.Second, time.Millisecond)
	require.True(t, g.InFlight("key"))
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, executions.Load())
	var sharedCount int
	for i := range results {
		require.Equal(t, 42, results[i])
		if sharedFlags[i] {
			sharedCount++
		}
	}
	require.Equal(t, callers-1, sharedCount)
	require.EqualValues(t, callers-1, g.Deduplicated())
	require.Zero(t, g.Len())
	require.False(t, g.InFlight("key"))
}

func TestGroup_SameErrorForEveryCaller(t *testing.T) {
	g, err := NewGroup[string, int](GroupOptions{Retain: time.Minute})
	require.NoError(t, err)

	errBoom := errors.New("boom")
	started := make(chan struct{})
	release := make(chan struct{})
	var executions atomic.Int32
	fn := func(ctx context.Context) (int, error) {
		if executions.Inc() == 1 {
			close(started)
		}
		<-release
		return 0, errBoom
	}

	errs := make(chan error, 2)
	go func() { _, err, _ := g.Do(context.Background(), "k", fn); errs <- err }()
	<-started
	go func() { _, err, _ := g.Do(context.Background(), "k", fn); errs <- err }()
	require.Eventually(t, func() bool { return g.Waiters("k") == 2 }, time.Second, time.Millisecond)
	close(release)

	require.Same(t, errBoom, <-errs)
	require.Same(t, errBoom, <-errs)

	// Failures are not retained: the next call executes again.
	_, err, shared := g.Do(context.Background(), "k", fn)
	require.ErrorIs(t, err, errBoom)
	require.False(t, shared)
	require.EqualValues(t, 2, executions.Load())
}

func TestGroup_WaiterCancellationDoesNotAffectOthers(t *testing.T) {
	g, err := NewGroup[string, string](GroupOptions{})
	require.NoError(t, err)

	release := make(chan struct{})
	fn := func(ctx context.Context) (string, error) {
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() { _, err, _ := g.Do(leaderCtx, "k", fn); leaderErr <- err }()
	require.Eventually(t, func() bool { return g.InFlight("k") }, time.Second, time.Millisecond)

	waiterRes := make(chan string, 1)
	go func() {
		v, err, _ := g.Do(context.Background(), "k", fn)
		assert.NoError(t, err)
		waiterRes <- v
	}()
	require.Eventually(t, func() bool { return g.Waiters("k") == 2 }, time.Second, time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	require.Equal(t, 1, g.Waiters("k"))

	close(release)
	require.Equal(t, "done", <-waiterRes)
}

func TestGroup_Panic(t *testing.T) {
	g, err := NewGroup[string, int](GroupOptions{})
	require.NoError(t, err)

	_, err, _ = g.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
		panic("unexpected")
	})
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	require.Equal(t, "unexpected", panicErr.Value)
	require.Zero(t, g.Len())
}

func TestGroup_RetainWindow(t *testing.T) {
	g, err := NewGroup[string, int](GroupOptions{Retain: 50 * time.Millisecond})
	require.NoError(t, err)

	var executions atomic.Int32
	fn := func(ctx context.Context) (int, error) { return int(executions.Inc()), nil }
	retain := DoOptions[int]{Retain: true}

	v, err, shared := g.DoWithOpts(context.Background(), "k", fn, retain)
	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, 1, v)

	v, err, shared = g.DoWithOpts(context.Background(), "k", fn, retain)
	require.NoError(t, err)
	require.True(t, shared)
	require.Equal(t, 1, v)

	// Callers without retention never see a settled outcome.
	v, _, shared = g.Do(context.Background(), "k", fn)
	require.False(t, shared)
	require.Equal(t, 2, v)

	g.Forget("k")
	v, _, _ = g.DoWithOpts(context.Background(), "k", fn, retain)
	require.Equal(t, 3, v)

	require.Eventually(t, func() bool {
		v, _, _ = g.DoWithOpts(context.Background(), "k", fn, retain)
		return v == 4
	}, time.Second, 10*time.Millisecond)
}

func TestGroup_SettledOutcomesAreNotRetainedByDefault(t *testing.T) {
	g, err := NewGroup[string, int](GroupOptions{Retain: time.Minute})
	require.NoError(t, err)

	var executions atomic.Int32
	fn := func(ctx context.Context) (int, error) { return int(executions.Inc()), nil }

	for i := 1; i <= 3; i++ {
		v, err, shared := g.Do(context.Background(), "k", fn)
		require.NoError(t, err)
		require.False(t, shared)
		require.Equal(t, i, v)
	}
	// An outcome settled without retention is not joinable by retaining callers either.
	v, _, shared := g.DoWithOpts(context.Background(), "k", fn, DoOptions[int]{Retain: true})
	require.False(t, shared)
	require.Equal(t, 4, v)
	require.Zero(t, g.Deduplicated())
}

func TestGroup_RetainUntil(t *testing.T) {
	g, err := NewGroup[string, int](GroupOptions{Retain: time.Minute})
	require.NoError(t, err)

	var executions atomic.Int32
	fn := func(ctx context.Context) (int, error) { return int(executions.Inc()), nil }

	tests := []struct {
		name       string
		until      func(v int) time.Time
		wantShared bool
	}{
		{name: "zero deadline disables retention", until: func(int) time.Time { return time.Time{} }},
		{name: "passed deadline disables retention", until: func(int) time.Time { return time.Now().Add(-time.Second) }},
		{name: "future deadline", until: func(int) time.Time { return time.Now().Add(time.Minute) }, wantShared: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Forget("k")
			opts := DoOptions[int]{Retain: true, RetainUntil: tt.until}
			first, _, _ := g.DoWithOpts(context.Background(), "k", fn, opts)
			second, _, shared := g.DoWithOpts(context.Background(), "k", fn, opts)
			require.Equal(t, tt.wantShared, shared)
			require.Equal(t, tt.wantShared, first == second)
		})
	}

	// The deadline shortens the group window.
	g.Forget("k")
	opts := DoOptions[int]{Retain: true, RetainUntil: func(int) time.Time { return time.Now().Add(30 * time.Millisecond) }}
	first, _, _ := g.DoWithOpts(context.Background(), "k", fn, opts)
	require.Eventually(t, func() bool {
		v, _, _ := g.DoWithOpts(context.Background(), "k", fn, opts)
		return v != first
	}, time.Second, 5*time.Millisecond)
}
