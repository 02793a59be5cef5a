/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/mlandesman/sams-reqkit/client"
	"github.com/mlandesman/sams-reqkit/retry"
	"github.com/mlandesman/sams-reqkit/scheduler"
)

// ExecutorKind tells which variant an Executor is.
type ExecutorKind int

// Executor kinds.
const (
	ExecutorNetworkCall ExecutorKind = iota
	ExecutorCompute
)

// String returns the string representation of ExecutorKind.
func (k ExecutorKind) String() string {
	if k == ExecutorNetworkCall {
		return "network_call"
	}
	return "compute"
}

// Requester performs single calls. *client.Client implements it.
type Requester interface {
	Do(ctx context.Context, req client.Request, opts client.CallOptions) (*client.Response, error)
}

// ComputeFunc is a pure computation. deps holds the results of the operation's dependencies by id.
type ComputeFunc func(ctx context.Context, deps map[string]interface{}) (interface{}, error)

// Executor is the work of an operation: either a network call or a computation.
// The set of executors is closed, use NetworkCall or Compute to create one.
type Executor interface {
	Kind() ExecutorKind
	execute(ctx context.Context, priority scheduler.Priority, deps map[string]interface{}) (interface{}, error)
	target() string
}

type networkCall struct {
	requester Requester
	req       client.Request
	opts      client.CallOptions
}

// NetworkCall creates an executor performing the request through the requester.
// The result of the operation is the *client.Response.
// If opts.Priority is left normal, the priority of the operation is used.
func NetworkCall(requester Requester, req client.Request, opts client.CallOptions) Executor {
	return &networkCall{requester: requester, req: req, opts: opts}
}

func (n *networkCall) Kind() ExecutorKind { return ExecutorNetworkCall }

func (n *networkCall) execute(ctx context.Context, priority scheduler.Priority, _ map[string]interface{}) (interface{}, error) {
	opts := n.opts
	if opts.Priority == scheduler.PriorityNormal {
		opts.Priority = priority
	}
	return n.requester.Do(ctx, n.req, opts)
}

func (n *networkCall) target() string {
	method := n.req.Method
	if method == "" {
		method = "GET"
	}
	return method + " " + n.req.URL
}

type compute struct {
	fn ComputeFunc
}

// Compute creates an executor running fn.
func Compute(fn ComputeFunc) Executor {
	return &compute{fn: fn}
}

func (c *compute) Kind() ExecutorKind { return ExecutorCompute }

func (c *compute) execute(ctx context.Context, _ scheduler.Priority, deps map[string]interface{}) (interface{}, error) {
	return c.fn(ctx, deps)
}

func (c *compute) target() string { return "" }

// Operation is a unit of a batch.
type Operation struct {
	ID string

	// Type is a caller-defined label copied to the outcome.
	Type string

	Priority     scheduler.Priority
	Dependencies []string

	// Timeout bounds the operation. ExecOptions.DefaultTimeout is used if zero.
	Timeout time.Duration

	// Retry re-runs the operation in place after timeouts and network failures.
	Retry retry.Policy

	Exec Executor
}

func (op *Operation) target() string {
	if t := op.Exec.target(); t != "" {
		return t
	}
	if op.Type != "" {
		return op.Type
	}
	return op.ID
}

// Errors recorded in outcomes of operations that never ran.
var (
	ErrCanceled         = errors.New("operation canceled")
	ErrDependencyFailed = errors.New("dependency did not complete")
)

// Outcome is the result of one operation.
type Outcome struct {
	ID      string
	Type    string
	State   State
	Success bool
	Result  interface{}
	Err     error

	Duration   time.Duration
	StartedAt  time.Time
	FinishedAt time.Time
	Attempts   int
}
