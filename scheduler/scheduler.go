/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package scheduler provides the connection scheduler: a priority queue with an admission ceiling
// for concurrently executing network operations, retries with exponential backoff, per-attempt timeouts,
// and optional batching of low-urgency operations.
//
// Operations with higher priority are always admitted first when a slot is freed;
// within one priority operations are served in FIFO order. Running operations are never preempted.
// Critical operations and operations with BypassQueue start immediately regardless of the ceiling,
// but they occupy a slot while running, so the queue backfills only the remaining ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/mlandesman/sams-reqkit/log"
	"github.com/mlandesman/sams-reqkit/reqerr"
	"github.com/mlandesman/sams-reqkit/retry"
)

// CallFunc performs a single attempt of an operation.
// The context is cancelled when the attempt times out or when the caller gives up.
type CallFunc func(ctx context.Context) (interface{}, error)

// Target describes what an operation calls.
type Target struct {
	// Name identifies the target in errors and logs (e.g. "GET https://api.example.com/units").
	Name string

	// Origin is used for per-origin in-flight diagnostics (e.g. "https://api.example.com").
	Origin string

	// Call performs one attempt. Errors not classified with reqerr are treated as network failures.
	Call CallFunc
}

// NewTarget creates a Target for the URL, deriving the origin from it.
func NewTarget(method, rawURL string, call CallFunc) Target {
	origin := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	return Target{Name: method + " " + rawURL, Origin: origin, Call: call}
}

// Options are per-operation options.
type Options struct {
	Priority Priority

	// Batchable lets the operation wait in the batch buffer when batching is enabled.
	Batchable bool

	// BypassQueue starts the operation immediately regardless of the ceiling.
	BypassQueue bool

	// Timeout bounds every attempt. Config.Timeout is used if zero.
	Timeout time.Duration
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Active         int
	Queued         int
	Completed      int64
	Failed         int64
	Retries        int64
	AverageLatency time.Duration
	PerOrigin      map[string]int
}

// Opts represents options for the Scheduler.
type Opts struct {
	Logger  log.FieldLogger
	Metrics MetricsCollector
}

type opState int

const (
	opStateQueued opState = iota
	opStateBatched
	opStateRunning
	opStateWaitingRetry
	opStateSettled
)

type opResult struct {
	val interface{}
	err error
}

type operation struct {
	id         string
	target     Target
	opts       Options
	ctx        context.Context
	enqueuedAt time.Time
	retries    int
	state      opState
	retryTimer *time.Timer
	done       chan opResult
}

// immediate tells whether op skips the queue and the ceiling.
func (op *operation) immediate() bool {
	return op.opts.BypassQueue || op.opts.Priority >= PriorityCritical
}

// Scheduler admits operations under the concurrency ceiling.
type Scheduler struct {
	cfg     Config
	policy  retry.ExponentialBackoffPolicy
	logger  log.FieldLogger
	metrics MetricsCollector

	mu         sync.Mutex
	queue      []*operation
	batch      []*operation
	batchTimer *time.Timer
	batchGen   uint64
	waiting    map[*operation]struct{}
	active     int
	perOrigin  map[string]int

	completed      int64
	failed         int64
	retries        int64
	latencySum     time.Duration
	latencySamples int64
}

// New creates a new Scheduler.
func New(cfg *Config) (*Scheduler, error) {
	return NewWithOpts(cfg, Opts{})
}

// NewWithOpts creates a new Scheduler with options.
func NewWithOpts(cfg *Config, opts Opts) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, reqerr.New(reqerr.KindConfiguration, err)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = disabledMetrics{}
	}
	return &Scheduler{
		cfg:       *cfg,
		policy:    retry.NewExponentialBackoffPolicy(cfg.RetryBaseDelay, cfg.MaxRetries),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		waiting:   make(map[*operation]struct{}),
		perOrigin: make(map[string]int),
	}, nil
}

// MaxConcurrent returns the admission ceiling.
func (s *Scheduler) MaxConcurrent() int {
	return s.cfg.MaxConcurrent
}

// Enqueue submits the operation and waits for its outcome.
// If ctx is done before the operation settles, a queued operation is removed from the queue
// and a running one has its attempt context cancelled.
func (s *Scheduler) Enqueue(ctx context.Context, target Target, opts Options) (interface{}, error) {
	if target.Call == nil {
		return nil, reqerr.WithContext(reqerr.Newf(reqerr.KindConfiguration, "target has no call function"),
			"", target.Name, 0, 0)
	}
	if target.Origin == "" {
		target.Origin = target.Name
	}
	op := &operation{
		id:         xid.New().String(),
		target:     target,
		opts:       opts,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		done:       make(chan opResult, 1),
	}

	s.mu.Lock()
	s.submitLocked(op)
	s.mu.Unlock()

	select {
	case res := <-op.done:
		return res.val, res.err
	case <-ctx.Done():
		res := s.abandon(op)
		return res.val, res.err
	}
}

func (s *Scheduler) submitLocked(op *operation) {
	switch {
	case op.immediate():
		s.startLocked(op)
	case op.opts.Batchable && s.cfg.Batching.Enabled:
		op.state = opStateBatched
		s.batch = append(s.batch, op)
		if len(s.batch) >= s.cfg.Batching.MaxSize {
			s.flushBatchLocked()
		} else if len(s.batch) == 1 {
			gen := s.batchGen
			s.batchTimer = time.AfterFunc(s.cfg.Batching.Window, func() { s.flushBatch(gen) })
		}
	default:
		s.insertLocked(op)
		s.dispatchLocked()
	}
	s.updateGaugesLocked()
}

// insertLocked puts op before the first queued operation with strictly lower priority.
func (s *Scheduler) insertLocked(op *operation) {
	op.state = opStateQueued
	pos := len(s.queue)
	for i, queued := range s.queue {
		if queued.opts.Priority < op.opts.Priority {
			pos = i
			break
		}
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[pos+1:], s.queue[pos:])
	s.queue[pos] = op
}

func (s *Scheduler) dispatchLocked() {
	for s.active < s.cfg.MaxConcurrent && len(s.queue) > 0 {
		op := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.startLocked(op)
	}
}

// flushBatch is the window timer callback of the batch with the given generation.
func (s *Scheduler) flushBatch(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.batchGen {
		return // the batch was already flushed by size, emptied or cleared
	}
	s.flushBatchLocked()
	s.updateGaugesLocked()
}

// stopBatchTimerLocked ends the current batch generation, so a timer that already fired is ignored.
func (s *Scheduler) stopBatchTimerLocked() {
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	s.batchGen++
}

func (s *Scheduler) flushBatchLocked() {
	s.stopBatchTimerLocked()
	batch := s.batch
	s.batch = nil
	for _, op := range batch {
		s.insertLocked(op)
	}
	s.dispatchLocked()
}

func (s *Scheduler) startLocked(op *operation) {
	op.state = opStateRunning
	s.active++
	s.perOrigin[op.target.Origin]++
	go s.run(op)
}

func (s *Scheduler) run(op *operation) {
	timeout := op.opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(op.ctx, timeout)
	start := time.Now()
	val, err := safeCall(attemptCtx, op.target.Call)
	elapsed := time.Since(start)
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && op.ctx.Err() == nil
	cancel()
	err = classify(err, timedOut, timeout)

	s.metrics.ObserveAttemptDuration(op.opts.Priority, elapsed)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.active--
	if s.perOrigin[op.target.Origin]--; s.perOrigin[op.target.Origin] <= 0 {
		delete(s.perOrigin, op.target.Origin)
	}
	s.latencySum += elapsed
	s.latencySamples++

	if op.state == opStateRunning {
		if err != nil && reqerr.IsRetryable(err) && op.ctx.Err() == nil && op.retries < s.cfg.MaxRetries {
			s.scheduleRetryLocked(op, err)
		} else {
			s.settleLocked(op, val, err)
		}
	}
	s.dispatchLocked()
	s.updateGaugesLocked()
}

func (s *Scheduler) scheduleRetryLocked(op *operation, err error) {
	delay, ok := s.policy.Delay(op.retries)
	if !ok {
		s.settleLocked(op, nil, err)
		return
	}
	op.retries++
	op.state = opStateWaitingRetry
	s.waiting[op] = struct{}{}
	s.retries++
	s.metrics.IncRetries(op.opts.Priority)
	s.logger.Debug("scheduler operation retry scheduled",
		log.String("operation_id", op.id),
		log.String("target", op.target.Name),
		log.Int("retry", op.retries),
		log.DurationIn(delay, time.Millisecond),
		log.Error(err),
	)
	op.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if op.state != opStateWaitingRetry {
			return
		}
		delete(s.waiting, op)
		if op.immediate() {
			s.startLocked(op)
		} else {
			s.insertLocked(op)
			s.dispatchLocked()
		}
		s.updateGaugesLocked()
	})
}

func (s *Scheduler) settleLocked(op *operation, val interface{}, err error) {
	if op.state == opStateSettled {
		return
	}
	op.state = opStateSettled
	status := StatusCompleted
	if err != nil {
		err = reqerr.WithContext(err, op.id, op.target.Name, op.retries, time.Since(op.enqueuedAt))
		s.failed++
		switch kind, _ := reqerr.KindOf(err); {
		case kind == reqerr.KindQueueCleared:
			status = StatusCleared
		case errors.Is(err, context.Canceled):
			status = StatusCanceled
		default:
			status = StatusFailed
		}
		if status == StatusFailed {
			s.logger.Warn("scheduler operation failed", log.String("operation_id", op.id), log.Error(err))
		}
	} else {
		s.completed++
	}
	s.metrics.IncOperations(op.opts.Priority, status)
	op.done <- opResult{val: val, err: err}
}

// abandon settles op on behalf of a caller whose context is done.
// If op has already settled, its outcome is returned instead.
func (s *Scheduler) abandon(op *operation) opResult {
	s.mu.Lock()
	if op.state == opStateSettled {
		s.mu.Unlock()
		return <-op.done
	}
	s.detachLocked(op)
	kind := reqerr.KindOperationFailure
	if errors.Is(op.ctx.Err(), context.DeadlineExceeded) {
		kind = reqerr.KindTimeout
	}
	s.settleLocked(op, nil, reqerr.New(kind, op.ctx.Err()))
	s.updateGaugesLocked()
	s.mu.Unlock()
	return <-op.done
}

// detachLocked removes a not running op from every waiting structure.
func (s *Scheduler) detachLocked(op *operation) {
	switch op.state {
	case opStateQueued:
		s.queue = removeOp(s.queue, op)
	case opStateBatched:
		s.batch = removeOp(s.batch, op)
		if len(s.batch) == 0 {
			s.stopBatchTimerLocked()
		}
	case opStateWaitingRetry:
		op.retryTimer.Stop()
		delete(s.waiting, op)
	}
}

func removeOp(ops []*operation, op *operation) []*operation {
	for i := range ops {
		if ops[i] == op {
			copy(ops[i:], ops[i+1:])
			ops[len(ops)-1] = nil
			return ops[:len(ops)-1]
		}
	}
	return ops
}

// Clear fails every queued, batched, or retry-waiting operation with the queue-cleared error.
// Running operations are not affected. It returns the number of cleared operations.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared []*operation
	cleared = append(cleared, s.queue...)
	cleared = append(cleared, s.batch...)
	for op := range s.waiting {
		cleared = append(cleared, op)
	}
	for _, op := range cleared {
		s.detachLocked(op)
		s.settleLocked(op, nil, reqerr.New(reqerr.KindQueueCleared, nil))
	}
	s.queue = nil
	s.batch = nil
	s.stopBatchTimerLocked()
	s.updateGaugesLocked()
	if len(cleared) > 0 {
		s.logger.Warn("scheduler queue cleared", log.Int("cleared", len(cleared)))
	}
	return len(cleared)
}

// Stats returns the current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Active:    s.active,
		Queued:    s.queuedLocked(),
		Completed: s.completed,
		Failed:    s.failed,
		Retries:   s.retries,
		PerOrigin: make(map[string]int, len(s.perOrigin)),
	}
	if s.latencySamples > 0 {
		st.AverageLatency = s.latencySum / time.Duration(s.latencySamples)
	}
	for origin, n := range s.perOrigin {
		st.PerOrigin[origin] = n
	}
	return st
}

func (s *Scheduler) queuedLocked() int {
	return len(s.queue) + len(s.batch) + len(s.waiting)
}

func (s *Scheduler) updateGaugesLocked() {
	s.metrics.SetQueueLength(s.queuedLocked())
	s.metrics.SetActive(s.active)
}

func safeCall(ctx context.Context, call CallFunc) (val interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = reqerr.Newf(reqerr.KindOperationFailure, "panic: %v", p)
		}
	}()
	return call(ctx)
}

// classify maps an attempt error to the failure taxonomy.
func classify(err error, timedOut bool, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	if timedOut {
		if kind, ok := reqerr.KindOf(err); !ok || kind != reqerr.KindTimeout {
			return reqerr.New(reqerr.KindTimeout, fmt.Errorf("attempt exceeded %s: %w", timeout, err))
		}
		return err
	}
	if _, ok := reqerr.KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return reqerr.New(reqerr.KindOperationFailure, err)
	}
	return reqerr.New(reqerr.KindNetworkFailure, err)
}
