/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// DefaultRetainWindow is how long a successful outcome stays joinable after it settled.
const DefaultRetainWindow = time.Second

// PanicError is an error that represents a panic value and stack trace.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.Value, p.Stack)
}

// Unwrap returns the panic value if it is an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

func newPanicError(v interface{}) error {
	stack := debug.Stack()
	// The first line is "goroutine N [running]:", which is misleading for waiters on other goroutines.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &PanicError{Value: v, Stack: stack}
}

// GroupOptions represents options for the Group.
type GroupOptions struct {
	// Retain is the longest time a successful outcome stays joinable after the call settled.
	// It applies only to calls made with DoOptions.Retain. Zero disables retention.
	Retain time.Duration

	// MaxRetained bounds the number of retained outcomes (DefaultMaxEntries if zero).
	MaxRetained int

	// Metrics is used for the store of retained outcomes.
	Metrics MetricsCollector
}

// DoOptions represents per-call options of Group.DoWithOpts.
type DoOptions[V any] struct {
	// Retain allows the caller to be answered from a retained outcome and, if the caller
	// starts the execution, keeps its successful outcome joinable for the group's window.
	Retain bool

	// RetainUntil bounds retention of the value. A zero time means the value is not retained.
	RetainUntil func(v V) time.Time
}

type pendingCall[V any] struct {
	done    chan struct{}
	val     V
	err     error
	waiters int
	forgot  bool
	opts    DoOptions[V]
}

// Group collapses concurrent calls with the same key into a single execution.
// Every caller of a collapsed call observes the identical value or the identical error.
type Group[K comparable, V any] struct {
	mu       sync.Mutex
	calls    map[K]*pendingCall[V]
	retained *Store[K, V]
	retain   time.Duration

	deduplicated atomic.Int64
}

// NewGroup creates a new Group.
func NewGroup[K comparable, V any](opts GroupOptions) (*Group[K, V], error) {
	if opts.Retain < 0 {
		return nil, fmt.Errorf("retain window must be greater or equal to 0")
	}
	g := &Group[K, V]{calls: make(map[K]*pendingCall[V]), retain: opts.Retain}
	if opts.Retain > 0 {
		store, err := New[K, V](opts.MaxRetained, opts.Metrics)
		if err != nil {
			return nil, err
		}
		g.retained = store
	}
	return g, nil
}

// Do executes fn for the key unless a call for the same key is already in flight,
// in which case the caller joins it. Settled outcomes are never reused.
// shared reports whether the outcome was produced by another caller's execution.
//
// fn runs on its own goroutine with a context that is not cancelled together with ctx.
// Cancelling ctx only stops this caller from waiting; other callers still receive the outcome.
// A panic in fn is delivered to every caller as *PanicError.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(ctx context.Context) (V, error)) (val V, err error, shared bool) {
	return g.DoWithOpts(ctx, key, fn, DoOptions[V]{})
}

// DoWithOpts is like Do, but with opts.Retain the caller may also be answered by an outcome
// retained from a recently settled call.
func (g *Group[K, V]) DoWithOpts(
	ctx context.Context, key K, fn func(ctx context.Context) (V, error), opts DoOptions[V],
) (val V, err error, shared bool) {
	g.mu.Lock()
	if opts.Retain && g.retained != nil {
		if v, ok := g.retained.Get(key); ok {
			g.mu.Unlock()
			g.deduplicated.Inc()
			return v, nil, true
		}
	}
	c, inFlight := g.calls[key]
	if inFlight {
		c.waiters++
		g.deduplicated.Inc()
	} else {
		c = &pendingCall[V]{done: make(chan struct{}), waiters: 1, opts: opts}
		g.calls[key] = c
		go g.run(context.WithoutCancel(ctx), key, c, fn)
	}
	g.mu.Unlock()

	select {
	case <-c.done:
		return c.val, c.err, inFlight
	case <-ctx.Done():
		g.mu.Lock()
		c.waiters--
		g.mu.Unlock()
		return val, ctx.Err(), inFlight
	}
}

func (g *Group[K, V]) run(ctx context.Context, key K, c *pendingCall[V], fn func(ctx context.Context) (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = newPanicError(r)
		}
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		if c.err == nil && !c.forgot {
			g.retainLocked(key, c)
		}
		close(c.done)
		g.mu.Unlock()
	}()
	c.val, c.err = fn(ctx)
}

func (g *Group[K, V]) retainLocked(key K, c *pendingCall[V]) {
	if g.retained == nil || !c.opts.Retain {
		return
	}
	ttl := g.retain
	if c.opts.RetainUntil != nil {
		until := c.opts.RetainUntil(c.val)
		if until.IsZero() {
			return
		}
		if left := time.Until(until); left < ttl {
			ttl = left
		}
	}
	if ttl > 0 {
		g.retained.AddWithTTL(key, c.val, ttl)
	}
}

// InFlight tells whether a call for the key is currently executing.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}

// Waiters returns the number of callers currently waiting for the key (the initiator included).
func (g *Group[K, V]) Waiters(key K) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[key]; ok {
		return c.waiters
	}
	return 0
}

// Len returns the number of calls in flight.
func (g *Group[K, V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// Deduplicated returns how many callers joined an existing or retained call instead of executing their own.
func (g *Group[K, V]) Deduplicated() int64 {
	return g.deduplicated.Load()
}

// Forget drops the retained outcome and detaches the in-flight call for the key,
// so the next Do starts a new execution. Callers already waiting still get the old outcome.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[key]; ok {
		c.forgot = true
		delete(g.calls, key)
	}
	if g.retained != nil {
		g.retained.Remove(key)
	}
}

// DeleteExpired removes retained outcomes whose window has passed.
func (g *Group[K, V]) DeleteExpired() int {
	if g.retained == nil {
		return 0
	}
	return g.retained.DeleteExpired()
}
