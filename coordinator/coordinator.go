/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package coordinator executes batches of heterogeneous operations (network calls and computations)
// honouring their dependencies, with per-operation timeouts, progress reporting and adaptive throttling.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/mlandesman/sams-reqkit/log"
	"github.com/mlandesman/sams-reqkit/reqerr"
	"github.com/mlandesman/sams-reqkit/retry"
	"github.com/mlandesman/sams-reqkit/scheduler"
)

// ExecOptions represents options of a single batch execution.
type ExecOptions struct {
	// BatchID identifies the batch for Progress, Cancel and ClearProgress.
	// Progress of a batch is retained after it finished only if BatchID is set.
	BatchID string

	Strategy        Strategy
	FailureStrategy FailureStrategy

	// Observer is called every ProgressInterval while the batch runs and once after it finished.
	Observer         Observer
	ProgressInterval time.Duration

	// MaxParallel limits the number of operations started together (Config.MaxParallel if zero).
	MaxParallel int

	// DefaultTimeout bounds operations without their own timeout (Config.DefaultTimeout if zero).
	DefaultTimeout time.Duration
}

// Stats is a point-in-time view of the coordinator counters.
type Stats struct {
	Active    int
	Completed int64
	Failed    int64
	Cancelled int64
	Throttled int64
	Batches   int
}

// Opts represents options for the Coordinator.
type Opts struct {
	Logger  log.FieldLogger
	Metrics MetricsCollector

	// ExternalActive reports operations running outside of the coordinator
	// (e.g. the scheduler's active calls). They count toward the throttling active threshold.
	ExternalActive func() int

	// MemoryUsage reports the heap usage compared with the throttling memory threshold.
	// runtime.MemStats.HeapAlloc is used if nil.
	MemoryUsage func() uint64
}

// Coordinator executes batches of operations. It is safe for concurrent use.
type Coordinator struct {
	cfg       Config
	logger    log.FieldLogger
	metrics   MetricsCollector
	throttler *throttler

	mu      sync.Mutex
	batches map[string]*batch

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	throttled atomic.Int64
}

// New creates a new Coordinator.
func New(cfg *Config) (*Coordinator, error) {
	return NewWithOpts(cfg, Opts{})
}

// NewWithOpts creates a new Coordinator with options.
func NewWithOpts(cfg *Config, opts Opts) (*Coordinator, error) {
	if cfg.MaxParallel <= 0 || cfg.DefaultTimeout <= 0 || cfg.ProgressInterval <= 0 {
		return nil, reqerr.New(reqerr.KindConfiguration, errors.New("invalid coordinator configuration"))
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = disabledMetrics{}
	}
	if opts.MemoryUsage == nil {
		opts.MemoryUsage = heapInUse
	}
	c := &Coordinator{
		cfg:     *cfg,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		batches: make(map[string]*batch),
	}
	external := opts.ExternalActive
	c.throttler = &throttler{
		cfg:      cfg.Throttle,
		memUsage: opts.MemoryUsage,
		active: func() int {
			n := int(c.active.Load())
			if external != nil {
				n += external()
			}
			return n
		},
	}
	return c, nil
}

// ExecuteConcurrent executes the operations and returns their outcomes in input order.
//
// Invalid batches (empty or duplicate ids, unknown dependencies, dependencies the strategy cannot honour)
// are rejected with ConfigurationError and dependency cycles with DependencyCycle before anything runs.
// Individual failures are recorded in outcomes. Under FailureFast the first failure stops the batch:
// operations not started yet are cancelled and a batch-level OperationFailure wrapping it is returned
// together with the outcomes.
func (c *Coordinator) ExecuteConcurrent(ctx context.Context, ops []Operation, opts ExecOptions) ([]Outcome, error) {
	strategy := opts.Strategy
	if strategy == StrategyAuto {
		strategy = resolveStrategy(ops)
	}
	if err := validate(ops, strategy); err != nil {
		return nil, err
	}
	b, err := c.register(ops, opts)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With(log.String("batch_id", b.id), log.String("strategy", strategy.String()))
	logger.Debug("batch started", log.Int("operations", len(ops)))
	start := time.Now()

	stopObserver := c.observe(b, opts)
	batchErr := c.run(ctx, b, strategy, logger)
	b.progress.finish()
	stopObserver()

	if !b.retained {
		c.mu.Lock()
		if c.batches[b.id] == b {
			delete(c.batches, b.id)
		}
		c.mu.Unlock()
	}

	p := b.progress.snapshot()
	fields := []log.Field{
		log.Int("completed", p.Completed),
		log.Int("failed", p.Failed),
		log.Int("cancelled", p.Cancelled),
		log.DurationIn(time.Since(start), time.Millisecond),
	}
	if batchErr != nil {
		logger.Warn("batch stopped", append(fields, log.Error(batchErr))...)
	} else {
		logger.Info("batch finished", fields...)
	}
	return b.outcomesCopy(), batchErr
}

func (c *Coordinator) register(ops []Operation, opts ExecOptions) (*batch, error) {
	id := opts.BatchID
	retained := id != ""
	if !retained {
		id = xid.New().String()
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = c.cfg.MaxParallel
	}
	defaultTimeout := opts.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = c.cfg.DefaultTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.batches[id]; ok && !existing.progress.snapshot().Done {
		return nil, reqerr.Newf(reqerr.KindConfiguration, "batch %q is already running", id)
	}
	b := newBatch(id, ops, opts.FailureStrategy, maxParallel, defaultTimeout, c.onTerminal)
	b.retained = retained
	c.batches[id] = b
	return b, nil
}

func (c *Coordinator) onTerminal(state State) {
	switch state {
	case StateCompleted:
		c.completed.Inc()
	case StateFailed:
		c.failed.Inc()
	case StateCancelled:
		c.cancelled.Inc()
	}
	c.metrics.IncOperations(state)
}

// observe starts progress reporting. The returned function stops it and reports the final progress.
func (c *Coordinator) observe(b *batch, opts ExecOptions) (stop func()) {
	if opts.Observer == nil {
		return func() {}
	}
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = c.cfg.ProgressInterval
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				opts.Observer(b.progress.snapshot())
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
		opts.Observer(b.progress.snapshot())
	}
}

func (c *Coordinator) run(ctx context.Context, b *batch, strategy Strategy, logger log.FieldLogger) error {
	limit := b.maxParallel
	if strategy == StrategySequential {
		limit = 1
	}
	for {
		if err := ctx.Err(); err != nil {
			b.cancelPending(reqerr.New(reqerr.KindOperationFailure, fmt.Errorf("%w: %w", ErrCanceled, err)))
			return reqerr.New(reqerr.KindOperationFailure, fmt.Errorf("batch canceled: %w", err))
		}
		if b.failureStrategy == FailureFast {
			if firstErr := b.firstFailure(); firstErr != nil {
				b.cancelPending(reqerr.New(reqerr.KindOperationFailure, ErrCanceled))
				return reqerr.New(reqerr.KindOperationFailure, fmt.Errorf("batch aborted: %w", firstErr))
			}
		}
		b.cancelBlocked()

		ready, remaining := b.ready()
		if remaining == 0 {
			return nil
		}
		if len(ready) == 0 {
			err := reqerr.Newf(reqerr.KindDependencyCycle, "no operation is ready while %d remain", remaining)
			logger.Error("batch cannot progress", log.Error(err))
			b.cancelPending(err)
			return err
		}
		if len(ready) > limit {
			ready = ready[:limit]
		}
		if err := c.admit(ctx, b, ready, logger); err != nil {
			continue // ctx is done, handled on the next iteration
		}
		c.runGroup(ctx, b, ready, logger)
	}
}

// admit delays the group if resources are under pressure.
func (c *Coordinator) admit(ctx context.Context, b *batch, group []int, logger log.FieldLogger) error {
	priority := scheduler.PriorityLow
	for _, i := range group {
		if p := b.ops[i].Priority; p > priority {
			priority = p
		}
	}
	d := c.throttler.delay(len(group), priority)
	if d <= 0 {
		return nil
	}
	c.throttled.Inc()
	c.metrics.ObserveThrottleDelay(d)
	logger.Debug("operation group admission throttled",
		log.Int("operations", len(group)), log.String("priority", priority.String()), log.DurationIn(d, time.Millisecond))
	return c.throttler.wait(ctx, d)
}

func (c *Coordinator) runGroup(ctx context.Context, b *batch, group []int, logger log.FieldLogger) {
	var eg errgroup.Group
	for _, i := range group {
		i := i
		eg.Go(func() error {
			c.runOp(ctx, b, i, logger)
			return nil
		})
	}
	_ = eg.Wait()
}

func (c *Coordinator) runOp(ctx context.Context, b *batch, i int, logger log.FieldLogger) {
	op := &b.ops[i]
	if !b.progress.transition(op.ID, StateRunning, nil) {
		return // cancelled before start
	}
	c.metrics.SetActive(int(c.active.Inc()))
	defer func() { c.metrics.SetActive(int(c.active.Dec())) }()

	deps := b.dependencyResults(op)
	timeout := op.Timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	var result interface{}
	attempts := 0
	attempt := func(ctx context.Context) error {
		attempts++
		var err error
		result, err = c.attempt(ctx, op, deps, timeout)
		return err
	}

	started := time.Now()
	var err error
	if op.Retry != nil {
		err = retry.DoWithRetry(ctx, op.Retry, reqerr.IsRetryable, func(err error, d time.Duration) {
			logger.Debug("retrying operation",
				log.String("operation_id", op.ID), log.Int("attempt", attempts), log.DurationIn(d, time.Millisecond), log.Error(err))
		}, attempt)
	} else {
		err = attempt(ctx)
	}
	finished := time.Now()

	outcome := Outcome{
		ID:         op.ID,
		Type:       op.Type,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
		Attempts:   attempts,
	}
	if err != nil {
		outcome.State = StateFailed
		outcome.Err = reqerr.WithContext(err, op.ID, op.target(), attempts-1, outcome.Duration)
		logger.Debug("operation failed", log.String("operation_id", op.ID), log.Error(outcome.Err))
	} else {
		outcome.State = StateCompleted
		outcome.Success = true
		outcome.Result = result
	}
	b.settle(i, outcome)
}

// attempt runs the executor once, bounded by the timeout.
// A running executor cannot be interrupted: on timeout it is abandoned and its result discarded.
func (c *Coordinator) attempt(
	ctx context.Context, op *Operation, deps map[string]interface{}, timeout time.Duration,
) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		val interface{}
		err error
	}
	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execResult{err: reqerr.Newf(reqerr.KindOperationFailure, "operation panicked: %v", r)}
			}
		}()
		val, err := op.Exec.execute(attemptCtx, op.Priority, deps)
		done <- execResult{val: val, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.val, nil
		}
		if _, ok := reqerr.KindOf(res.err); ok {
			return nil, res.err
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, reqerr.New(reqerr.KindTimeout, res.err)
		}
		return nil, reqerr.New(reqerr.KindOperationFailure, res.err)
	case <-attemptCtx.Done():
		if ctx.Err() == nil {
			return nil, reqerr.New(reqerr.KindTimeout, fmt.Errorf("operation did not finish within %s", timeout))
		}
		return nil, reqerr.New(reqerr.KindOperationFailure, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err()))
	}
}

// Progress returns the progress of a running or retained batch.
func (c *Coordinator) Progress(batchID string) (Progress, bool) {
	c.mu.Lock()
	b, ok := c.batches[batchID]
	c.mu.Unlock()
	if !ok {
		return Progress{}, false
	}
	return b.progress.snapshot(), true
}

// ClearProgress forgets the progress of a finished batch.
// It returns false if the batch is unknown or still running.
func (c *Coordinator) ClearProgress(batchID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.batches[batchID]
	if !ok || !b.progress.snapshot().Done {
		return false
	}
	delete(c.batches, batchID)
	return true
}

// Cancel cancels an operation that has not started yet. Running operations cannot be cancelled.
// Dependents of the cancelled operation are cancelled as well.
func (c *Coordinator) Cancel(batchID, operationID string) bool {
	c.mu.Lock()
	b, ok := c.batches[batchID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	i, ok := b.index[operationID]
	if !ok {
		return false
	}
	return b.cancel(i, reqerr.New(reqerr.KindOperationFailure, ErrCanceled))
}

// Stats returns the coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	batches := len(c.batches)
	c.mu.Unlock()
	return Stats{
		Active:    int(c.active.Load()),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Cancelled: c.cancelled.Load(),
		Throttled: c.throttled.Load(),
		Batches:   batches,
	}
}
