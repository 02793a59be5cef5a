/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/mlandesman/sams-reqkit/reqerr"
)

// batch is the state of one ExecuteConcurrent invocation.
type batch struct {
	id              string
	ops             []Operation
	index           map[string]int
	progress        *progressTracker
	failureStrategy FailureStrategy
	maxParallel     int
	defaultTimeout  time.Duration
	retained        bool
	onTerminal      func(State)

	mu       sync.Mutex
	outcomes []Outcome
	firstErr error
}

func newBatch(
	id string, ops []Operation, fs FailureStrategy, maxParallel int, defaultTimeout time.Duration, onTerminal func(State),
) *batch {
	index := make(map[string]int, len(ops))
	outcomes := make([]Outcome, len(ops))
	for i := range ops {
		index[ops[i].ID] = i
		outcomes[i] = Outcome{ID: ops[i].ID, Type: ops[i].Type, State: StatePending}
	}
	return &batch{
		id:              id,
		ops:             ops,
		index:           index,
		progress:        newProgressTracker(id, ops),
		failureStrategy: fs,
		maxParallel:     maxParallel,
		defaultTimeout:  defaultTimeout,
		onTerminal:      onTerminal,
		outcomes:        outcomes,
	}
}

// settle records the outcome of an operation that ran.
func (b *batch) settle(i int, outcome Outcome) {
	b.progress.transition(outcome.ID, outcome.State, outcome.Err)
	b.mu.Lock()
	b.outcomes[i] = outcome
	if outcome.State == StateFailed && b.firstErr == nil {
		b.firstErr = outcome.Err
	}
	b.mu.Unlock()
	b.onTerminal(outcome.State)
}

// cancel marks a pending operation cancelled. It returns false if the operation has already started.
func (b *batch) cancel(i int, err error) bool {
	id := b.ops[i].ID
	if !b.progress.transition(id, StateCancelled, err) {
		return false
	}
	b.mu.Lock()
	b.outcomes[i] = Outcome{ID: id, Type: b.ops[i].Type, State: StateCancelled, Err: err}
	b.mu.Unlock()
	b.onTerminal(StateCancelled)
	return true
}

func (b *batch) cancelPending(err error) {
	for i := range b.ops {
		b.cancel(i, err)
	}
}

// cancelBlocked cancels pending operations depending on a failed or cancelled one, transitively.
func (b *batch) cancelBlocked() {
	for changed := true; changed; {
		changed = false
		for i := range b.ops {
			op := &b.ops[i]
			if b.progress.state(op.ID) != StatePending {
				continue
			}
			for _, dep := range op.Dependencies {
				st := b.progress.state(dep)
				if st != StateFailed && st != StateCancelled {
					continue
				}
				err := reqerr.New(reqerr.KindOperationFailure, fmt.Errorf("%w: %s is %s", ErrDependencyFailed, dep, st))
				if b.cancel(i, err) {
					changed = true
				}
				break
			}
		}
	}
}

// ready returns pending operations whose dependencies have all completed, in input order,
// and the number of pending operations.
func (b *batch) ready() (ready []int, pending int) {
	for i := range b.ops {
		op := &b.ops[i]
		if b.progress.state(op.ID) != StatePending {
			continue
		}
		pending++
		ok := true
		for _, dep := range op.Dependencies {
			if b.progress.state(dep) != StateCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, i)
		}
	}
	return ready, pending
}

func (b *batch) dependencyResults(op *Operation) map[string]interface{} {
	deps := make(map[string]interface{}, len(op.Dependencies))
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, dep := range op.Dependencies {
		deps[dep] = b.outcomes[b.index[dep]].Result
	}
	return deps
}

func (b *batch) firstFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firstErr
}

func (b *batch) outcomesCopy() []Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Outcome(nil), b.outcomes...)
}
