/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"sync"
	"time"
)

// State is the progress state of an operation.
// An operation moves from pending to running and then to exactly one terminal state,
// or from pending directly to cancelled.
type State int

// Operation states.
const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal tells whether the state is final.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

func (s State) canMoveTo(next State) bool {
	switch s {
	case StatePending:
		return next == StateRunning || next == StateCancelled
	case StateRunning:
		return next == StateCompleted || next == StateFailed
	}
	return false
}

// OperationProgress is the progress of one operation.
type OperationProgress struct {
	ID    string
	Type  string
	State State

	// Percent is 100 once the operation completed, 0 before.
	Percent float64

	// StartedAt is zero until the operation starts running.
	StartedAt time.Time

	// Message describes why the operation failed or was cancelled.
	Message string
}

// Progress is a snapshot of a batch progress.
type Progress struct {
	BatchID string
	Total   int

	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int

	Operations map[string]OperationProgress
	Done       bool
}

// Fraction returns the share of operations in a terminal state.
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Completed+p.Failed+p.Cancelled) / float64(p.Total)
}

// Observer receives progress snapshots. It is never called concurrently for one batch.
type Observer func(Progress)

type progressTracker struct {
	batchID string

	mu   sync.Mutex
	ops  map[string]*OperationProgress
	done bool
}

func newProgressTracker(batchID string, ops []Operation) *progressTracker {
	tracked := make(map[string]*OperationProgress, len(ops))
	for i := range ops {
		tracked[ops[i].ID] = &OperationProgress{ID: ops[i].ID, Type: ops[i].Type, State: StatePending}
	}
	return &progressTracker{batchID: batchID, ops: tracked}
}

// transition moves the operation to the next state if allowed. cause, if not nil, becomes the message.
func (pt *progressTracker) transition(id string, next State, cause error) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	op, ok := pt.ops[id]
	if !ok || !op.State.canMoveTo(next) {
		return false
	}
	op.State = next
	switch next {
	case StateRunning:
		op.StartedAt = time.Now()
	case StateCompleted:
		op.Percent = 100
	}
	if cause != nil {
		op.Message = cause.Error()
	}
	return true
}

func (pt *progressTracker) state(id string) State {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if op, ok := pt.ops[id]; ok {
		return op.State
	}
	return StatePending
}

func (pt *progressTracker) finish() {
	pt.mu.Lock()
	pt.done = true
	pt.mu.Unlock()
}

func (pt *progressTracker) snapshot() Progress {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	p := Progress{
		BatchID:    pt.batchID,
		Total:      len(pt.ops),
		Operations: make(map[string]OperationProgress, len(pt.ops)),
		Done:       pt.done,
	}
	for id, op := range pt.ops {
		p.Operations[id] = *op
		switch op.State {
		case StatePending:
			p.Pending++
		case StateRunning:
			p.Running++
		case StateCompleted:
			p.Completed++
		case StateFailed:
			p.Failed++
		case StateCancelled:
			p.Cancelled++
		}
	}
	return p
}
