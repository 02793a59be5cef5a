/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/mlandesman/sams-reqkit/client"
	"github.com/mlandesman/sams-reqkit/reqerr"
	"github.com/mlandesman/sams-reqkit/retry"
	"github.com/mlandesman/sams-reqkit/scheduler"
	"github.com/mlandesman/sams-reqkit/testutil"
)

func newTestCoordinator(t *testing.T, opts Opts) *Coordinator {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Throttle.Enabled = false
	c, err := NewWithOpts(cfg, opts)
	require.NoError(t, err)
	return c
}

func value(v interface{}) Executor {
	return Compute(func(context.Context, map[string]interface{}) (interface{}, error) { return v, nil })
}

func failing(err error) Executor {
	return Compute(func(context.Context, map[string]interface{}) (interface{}, error) { return nil, err })
}

// execTracker counts concurrently running executors.
type execTracker struct {
	running atomic.Int32
	peak    atomic.Int32

	mu    sync.Mutex
	order []string
}

func (p *execTracker) exec(id string, d time.Duration) Executor {
	return Compute(func(context.Context, map[string]interface{}) (interface{}, error) {
		n := p.running.Inc()
		for {
			peak := p.peak.Load()
			if n <= peak || p.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		p.mu.Lock()
		p.order = append(p.order, id)
		p.mu.Unlock()
		time.Sleep(d)
		p.running.Dec()
		return id, nil
	})
}

func TestExecuteConcurrent_Validation(t *testing.T) {
	tests := []struct {
		name     string
		ops      []Operation
		strategy Strategy
		wantKind reqerr.Kind
	}{
		{
			name:     "empty id",
			ops:      []Operation{{Exec: value(1)}},
			wantKind: reqerr.KindConfiguration,
		},
		{
			name:     "duplicate id",
			ops:      []Operation{{ID: "a", Exec: value(1)}, {ID: "a", Exec: value(2)}},
			wantKind: reqerr.KindConfiguration,
		},
		{
			name:     "unknown dependency",
			ops:      []Operation{{ID: "a", Dependencies: []string{"x"}, Exec: value(1)}},
			wantKind: reqerr.KindConfiguration,
		},
		{
			name:     "missing executor",
			ops:      []Operation{{ID: "a"}},
			wantKind: reqerr.KindConfiguration,
		},
		{
			name: "cycle",
			ops: []Operation{
				{ID: "a", Dependencies: []string{"c"}, Exec: value(1)},
				{ID: "b", Dependencies: []string{"a"}, Exec: value(1)},
				{ID: "c", Dependencies: []string{"b"}, Exec: value(1)},
			},
			wantKind: reqerr.KindDependencyCycle,
		},
		{
			name:     "self dependency",
			ops:      []Operation{{ID: "a", Dependencies: []string{"a"}, Exec: value(1)}},
			wantKind: reqerr.KindDependencyCycle,
		},
		{
			name: "parallel with dependencies",
			ops: []Operation{
				{ID: "a", Exec: value(1)},
				{ID: "b", Dependencies: []string{"a"}, Exec: value(1)},
			},
			strategy: StrategyParallel,
			wantKind: reqerr.KindConfiguration,
		},
		{
			name: "sequential with dependency after dependent",
			ops: []Operation{
				{ID: "b", Dependencies: []string{"a"}, Exec: value(1)},
				{ID: "a", Exec: value(1)},
			},
			strategy: StrategySequential,
			wantKind: reqerr.KindConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t, Opts{})
			outcomes, err := c.ExecuteConcurrent(context.Background(), tt.ops, ExecOptions{Strategy: tt.strategy})
			testutil.RequireErrorKind(t, err, tt.wantKind)
			require.True(t, reqerr.IsFatal(err))
			require.Nil(t, outcomes)
			require.Equal(t, int64(0), c.Stats().Completed)
		})
	}
}

func TestExecuteConcurrent_MixedRunsReadySets(t *testing.T) {
	tracker := &execTracker{}
	c := newTestCoordinator(t, Opts{})
	ops := []Operation{
		{ID: "A", Exec: tracker.exec("A", 50*time.Millisecond)},
		{ID: "B", Dependencies: []string{"A"}, Exec: tracker.exec("B", 50*time.Millisecond)},
		{ID: "C", Dependencies: []string{"A"}, Exec: tracker.exec("C", 50*time.Millisecond)},
	}

	outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		require.Equal(t, ops[i].ID, o.ID)
		require.True(t, o.Success)
		require.Equal(t, StateCompleted, o.State)
	}
	require.Equal(t, "A", tracker.order[0])
	require.ElementsMatch(t, []string{"B", "C"}, tracker.order[1:])
	require.False(t, outcomes[1].StartedAt.Before(outcomes[0].FinishedAt))
	require.False(t, outcomes[2].StartedAt.Before(outcomes[0].FinishedAt))
	require.Equal(t, int32(2), tracker.peak.Load())
}

func TestExecuteConcurrent_ParallelChunks(t *testing.T) {
	tracker := &execTracker{}
	c := newTestCoordinator(t, Opts{})
	var ops []Operation
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		ops = append(ops, Operation{ID: id, Exec: tracker.exec(id, 30*time.Millisecond)})
	}

	start := time.Now()
	outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{MaxParallel: 3})
	require.NoError(t, err)
	require.Len(t, outcomes, 8)
	require.Equal(t, int32(3), tracker.peak.Load())
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond) // 3 rounds
	require.ElementsMatch(t, []string{"1", "2", "3"}, tracker.order[:3])
}

func TestExecuteConcurrent_Sequential(t *testing.T) {
	tracker := &execTracker{}
	c := newTestCoordinator(t, Opts{})
	ops := []Operation{
		{ID: "a", Exec: tracker.exec("a", time.Millisecond)},
		{ID: "b", Exec: tracker.exec("b", time.Millisecond)},
		{ID: "c", Dependencies: []string{"a"}, Exec: tracker.exec("c", time.Millisecond)},
	}
	_, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{Strategy: StrategySequential})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, tracker.order)
	require.Equal(t, int32(1), tracker.peak.Load())
}

func TestExecuteConcurrent_Timeout(t *testing.T) {
	never := make(chan struct{})
	defer close(never)
	c := newTestCoordinator(t, Opts{})
	ops := []Operation{{
		ID:      "hang",
		Timeout: 100 * time.Millisecond,
		Exec: Compute(func(context.Context, map[string]interface{}) (interface{}, error) {
			<-never
			return nil, nil
		}),
	}}

	outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{})
	require.NoError(t, err)
	o := outcomes[0]
	require.False(t, o.Success)
	require.Equal(t, StateFailed, o.State)
	testutil.RequireErrorKind(t, o.Err, reqerr.KindTimeout)
	require.GreaterOrEqual(t, o.Duration, 100*time.Millisecond)
	require.Less(t, o.Duration, 400*time.Millisecond)
}

func TestExecuteConcurrent_ContinueCancelsDependents(t *testing.T) {
	boom := errors.New("boom")
	c := newTestCoordinator(t, Opts{})
	ops := []Operation{
		{ID: "a", Exec: failing(boom)},
		{ID: "b", Dependencies: []string{"a"}, Exec: value("b")},
		{ID: "c", Dependencies: []string{"b"}, Exec: value("c")},
		{ID: "d", Exec: value("d")},
	}

	outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{FailureStrategy: FailureContinue})
	require.NoError(t, err)

	require.Equal(t, StateFailed, outcomes[0].State)
	require.ErrorIs(t, outcomes[0].Err, boom)
	testutil.RequireErrorKind(t, outcomes[0].Err, reqerr.KindOperationFailure)
	var classified *reqerr.Error
	require.ErrorAs(t, outcomes[0].Err, &classified)
	require.Equal(t, "a", classified.OperationID)

	for _, o := range outcomes[1:3] {
		require.Equal(t, StateCancelled, o.State)
		require.ErrorIs(t, o.Err, ErrDependencyFailed)
		require.Zero(t, o.Attempts)
	}
	require.True(t, outcomes[3].Success)
	require.Equal(t, "d", outcomes[3].Result)

	st := c.Stats()
	require.Equal(t, int64(1), st.Completed)
	require.Equal(t, int64(1), st.Failed)
	require.Equal(t, int64(2), st.Cancelled)
}

func TestExecuteConcurrent_RetryFailedBehavesAsContinue(t *testing.T) {
	c := newTestCoordinator(t, Opts{})
	ops := []Operation{{ID: "a", Exec: failing(errors.New("x"))}, {ID: "b", Exec: value(1)}}
	outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{
		Strategy: StrategySequential, FailureStrategy: FailureRetryFailed,
	})
	require.NoError(t, err)
	require.False(t, outcomes[0].Success)
	require.Equal(t, 1, outcomes[0].Attempts)
	require.True(t, outcomes[1].Success)
}

func TestExecuteConcurrent_FailFast(t *testing.T) {
	boom := errors.New("boom")
	c := newTestCoordinator(t, Opts{})
	ops := []Operation{
		{ID: "a", Exec: value(1)},
		{ID: "b", Exec: failing(boom)},
		{ID: "c", Exec: value(3)},
		{ID: "d", Exec: value(4)},
	}

	outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{
		Strategy: StrategySequential, FailureStrategy: FailureFast,
	})
	testutil.RequireErrorKind(t, err, reqerr.KindOperationFailure)
	require.ErrorIs(t, err, boom)
	require.Len(t, outcomes, 4)
	require.Equal(t, StateCompleted, outcomes[0].State)
	require.Equal(t, StateFailed, outcomes[1].State)
	for _, o := range outcomes[2:] {
		require.Equal(t, StateCancelled, o.State)
		require.ErrorIs(t, o.Err, ErrCanceled)
	}
}

func TestExecuteConcurrent_Retry(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantSuccess  bool
		wantAttempts int
	}{
		{name: "transient failure is retried", err: reqerr.New(reqerr.KindNetworkFailure, errors.New("reset")), wantSuccess: true, wantAttempts: 3},
		{name: "permanent failure is not retried", err: reqerr.New(reqerr.KindOperationFailure, errors.New("bad")), wantAttempts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestCoordinator(t, Opts{})
			ops := []Operation{{
				ID:    "op",
				Retry: retry.NewConstantBackoffPolicy(time.Millisecond, 3),
				Exec: Compute(func(context.Context, map[string]interface{}) (interface{}, error) {
					if calls.Inc() < 3 {
						return nil, tt.err
					}
					return "ok", nil
				}),
			}}
			outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{})
			require.NoError(t, err)
			require.Equal(t, tt.wantSuccess, outcomes[0].Success)
			require.Equal(t, tt.wantAttempts, outcomes[0].Attempts)
			if !tt.wantSuccess {
				var classified *reqerr.Error
				require.ErrorAs(t, outcomes[0].Err, &classified)
				require.Equal(t, 0, classified.Retries)
			}
		})
	}
}

func TestExecuteConcurrent_DependencyResults(t *testing.T) {
	c := newTestCoordinator(t, Opts{})
	ops := []Operation{
		{ID: "units", Exec: value(3)},
		{ID: "rate", Exec: value(100)},
		{ID: "total", Dependencies: []string{"units", "rate"}, Exec: Compute(
			func(_ context.Context, deps map[string]interface{}) (interface{}, error) {
				return deps["units"].(int) * deps["rate"].(int), nil
			})},
	}
	outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{})
	require.NoError(t, err)
	require.Equal(t, 300, outcomes[2].Result)
}

func TestExecuteConcurrent_Panic(t *testing.T) {
	c := newTestCoordinator(t, Opts{})
	ops := []Operation{{ID: "p", Exec: Compute(func(context.Context, map[string]interface{}) (interface{}, error) {
		panic("oops")
	})}}
	outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{})
	require.NoError(t, err)
	testutil.RequireErrorKind(t, outcomes[0].Err, reqerr.KindOperationFailure)
	require.Contains(t, outcomes[0].Err.Error(), "oops")
}

func TestExecuteConcurrent_ContextCanceled(t *testing.T) {
	c := newTestCoordinator(t, Opts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes, err := c.ExecuteConcurrent(ctx, []Operation{{ID: "a", Exec: value(1)}}, ExecOptions{})
	testutil.RequireErrorKind(t, err, reqerr.KindOperationFailure)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateCancelled, outcomes[0].State)
}

func TestExecuteConcurrent_ProgressObserver(t *testing.T) {
	tracker := &execTracker{}
	c := newTestCoordinator(t, Opts{})
	var ops []Operation
	for _, id := range []string{"a", "b", "c", "d"} {
		ops = append(ops, Operation{ID: id, Type: "unit-sync", Exec: tracker.exec(id, 30*time.Millisecond)})
	}

	var mu sync.Mutex
	var seen []Progress
	_, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{
		Strategy:         StrategySequential,
		ProgressInterval: 10 * time.Millisecond,
		Observer: func(p Progress) {
			mu.Lock()
			seen = append(seen, p)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, len(seen), 2)
	last := seen[len(seen)-1]
	require.True(t, last.Done)
	require.Equal(t, 4, last.Completed)
	require.Equal(t, 1.0, last.Fraction())
	for _, id := range []string{"a", "b", "c", "d"} {
		prev := StatePending
		for _, p := range seen {
			op := p.Operations[id]
			require.GreaterOrEqual(t, op.State, prev, "state of %s went back", id)
			prev = op.State
			if op.State == StatePending {
				require.True(t, op.StartedAt.IsZero())
				require.Zero(t, op.Percent)
			} else {
				require.False(t, op.StartedAt.IsZero())
			}
		}
		final := last.Operations[id]
		require.Equal(t, OperationProgress{
			ID: id, Type: "unit-sync", State: StateCompleted, Percent: 100, StartedAt: final.StartedAt,
		}, final)
	}
	// Sequential operations start in input order.
	for i, id := range []string{"b", "c", "d"} {
		prevID := []string{"a", "b", "c"}[i]
		require.True(t, last.Operations[id].StartedAt.After(last.Operations[prevID].StartedAt))
	}
}

func TestCoordinator_CancelAndClearProgress(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	c := newTestCoordinator(t, Opts{})
	ops := []Operation{
		{ID: "a", Exec: Compute(func(context.Context, map[string]interface{}) (interface{}, error) {
			close(started)
			<-release
			return "a", nil
		})},
		{ID: "b", Exec: value("b")},
		{ID: "c", Dependencies: []string{"b"}, Exec: value("c")},
	}

	type result struct {
		outcomes []Outcome
		err      error
	}
	done := make(chan result, 1)
	go func() {
		outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{BatchID: "batch-1", Strategy: StrategySequential})
		done <- result{outcomes, err}
	}()

	<-started
	require.False(t, c.Cancel("batch-1", "a"), "running operation cannot be cancelled")
	require.True(t, c.Cancel("batch-1", "b"))
	require.False(t, c.Cancel("batch-1", "b"))
	require.False(t, c.Cancel("batch-1", "unknown"))
	require.False(t, c.ClearProgress("batch-1"), "running batch cannot be cleared")

	p, ok := c.Progress("batch-1")
	require.True(t, ok)
	require.Equal(t, StateRunning, p.Operations["a"].State)
	require.False(t, p.Operations["a"].StartedAt.IsZero())
	require.Equal(t, StateCancelled, p.Operations["b"].State)
	require.NotEmpty(t, p.Operations["b"].Message)
	require.True(t, p.Operations["b"].StartedAt.IsZero())
	close(release)

	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.outcomes[0].Success)
	require.ErrorIs(t, res.outcomes[1].Err, ErrCanceled)
	require.ErrorIs(t, res.outcomes[2].Err, ErrDependencyFailed)

	p, ok = c.Progress("batch-1")
	require.True(t, ok)
	require.True(t, p.Done)
	require.Equal(t, 1, c.Stats().Batches)
	require.True(t, c.ClearProgress("batch-1"))
	_, ok = c.Progress("batch-1")
	require.False(t, ok)
}

func TestExecuteConcurrent_AnonymousBatchIsNotRetained(t *testing.T) {
	c := newTestCoordinator(t, Opts{})
	_, err := c.ExecuteConcurrent(context.Background(), []Operation{{ID: "a", Exec: value(1)}}, ExecOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, c.Stats().Batches)
}

func TestExecuteConcurrent_Throttling(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Throttle.BaseDelay = 20 * time.Millisecond
	metrics := NewPrometheusMetrics()
	c, err := NewWithOpts(cfg, Opts{
		Metrics:     metrics,
		MemoryUsage: func() uint64 { return uint64(cfg.Throttle.MemoryThreshold) + 1 },
	})
	require.NoError(t, err)

	ops := []Operation{{ID: "a", Exec: value(1)}, {ID: "b", Exec: value(2)}}
	start := time.Now()
	_, err = c.ExecuteConcurrent(context.Background(), ops, ExecOptions{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 28*time.Millisecond) // 20ms × √2
	require.Equal(t, int64(1), c.Stats().Throttled)
	testutil.RequireSamplesCountInHistogram(t, metrics.ThrottleDelays, 1)
}

func TestExecuteConcurrent_NetworkCalls(t *testing.T) {
	tr := testutil.NewTransport().
		HandleStatic("/units", http.StatusOK, `[1,2,3]`).
		HandleStatic("/missing", http.StatusNotFound, `{}`)
	cl, err := client.NewWithOpts(client.NewDefaultConfig(), client.Opts{Transport: tr})
	require.NoError(t, err)
	defer cl.Close()

	c := newTestCoordinator(t, Opts{ExternalActive: func() int { return cl.Stats().Active }})
	ops := []Operation{
		{ID: "units", Type: "fetch", Exec: NetworkCall(cl, client.Request{URL: "http://api.test/units"}, client.CallOptions{})},
		{ID: "missing", Type: "fetch", Priority: scheduler.PriorityHigh,
			Exec: NetworkCall(cl, client.Request{URL: "http://api.test/missing"}, client.CallOptions{})},
		{ID: "count", Type: "compute", Dependencies: []string{"units"}, Exec: Compute(
			func(_ context.Context, deps map[string]interface{}) (interface{}, error) {
				var units []int
				if err := deps["units"].(*client.Response).DecodeJSON(&units); err != nil {
					return nil, err
				}
				return len(units), nil
			})},
	}

	outcomes, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{})
	require.NoError(t, err)
	require.True(t, outcomes[0].Success)
	require.Equal(t, "fetch", outcomes[0].Type)
	require.False(t, outcomes[1].Success)
	testutil.RequireErrorKind(t, outcomes[1].Err, reqerr.KindOperationFailure)
	var statusErr *client.StatusError
	require.ErrorAs(t, outcomes[1].Err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Equal(t, 3, outcomes[2].Result)
}

type requesterFunc func(ctx context.Context, req client.Request, opts client.CallOptions) (*client.Response, error)

func (f requesterFunc) Do(ctx context.Context, req client.Request, opts client.CallOptions) (*client.Response, error) {
	return f(ctx, req, opts)
}

func TestNetworkCall_UsesOperationPriority(t *testing.T) {
	var mu sync.Mutex
	got := map[string]scheduler.Priority{}
	requester := requesterFunc(func(_ context.Context, req client.Request, opts client.CallOptions) (*client.Response, error) {
		mu.Lock()
		got[req.URL] = opts.Priority
		mu.Unlock()
		return &client.Response{StatusCode: http.StatusOK}, nil
	})

	c := newTestCoordinator(t, Opts{})
	ops := []Operation{
		{ID: "inherited", Priority: scheduler.PriorityCritical,
			Exec: NetworkCall(requester, client.Request{URL: "/inherited"}, client.CallOptions{})},
		{ID: "explicit", Priority: scheduler.PriorityCritical,
			Exec: NetworkCall(requester, client.Request{URL: "/explicit"}, client.CallOptions{Priority: scheduler.PriorityLow})},
		{ID: "default", Exec: NetworkCall(requester, client.Request{URL: "/default"}, client.CallOptions{})},
	}
	_, err := c.ExecuteConcurrent(context.Background(), ops, ExecOptions{Strategy: StrategyParallel})
	require.NoError(t, err)
	require.Equal(t, map[string]scheduler.Priority{
		"/inherited": scheduler.PriorityCritical,
		"/explicit":  scheduler.PriorityLow,
		"/default":   scheduler.PriorityNormal,
	}, got)
}
