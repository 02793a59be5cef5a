/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package reqerr defines the failure taxonomy shared by the scheduler, the client and the coordinator.
// Every failure surfaced to a caller is a *Error carrying a Kind plus enough context
// (operation id, target, retry count, elapsed time) for the caller to act on it.
package reqerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind int

// Failure kinds.
const (
	KindTimeout Kind = iota + 1
	KindNetworkFailure
	KindDependencyCycle
	KindOperationFailure
	KindQueueCleared
	KindConfiguration
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetworkFailure:
		return "network_failure"
	case KindDependencyCycle:
		return "dependency_cycle"
	case KindOperationFailure:
		return "operation_failure"
	case KindQueueCleared:
		return "queue_cleared"
	case KindConfiguration:
		return "configuration_error"
	}
	return "unknown"
}

// Sentinel errors, one per Kind. *Error matches them with errors.Is.
var (
	ErrTimeout          = errors.New("timeout")
	ErrNetworkFailure   = errors.New("network failure")
	ErrDependencyCycle  = errors.New("dependency cycle")
	ErrOperationFailure = errors.New("operation failure")
	ErrQueueCleared     = errors.New("queue cleared")
	ErrConfiguration    = errors.New("configuration error")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindNetworkFailure:
		return ErrNetworkFailure
	case KindDependencyCycle:
		return ErrDependencyCycle
	case KindOperationFailure:
		return ErrOperationFailure
	case KindQueueCleared:
		return ErrQueueCleared
	case KindConfiguration:
		return ErrConfiguration
	}
	return nil
}

// Error is a classified failure.
type Error struct {
	Kind        Kind
	OperationID string
	Target      string
	Retries     int
	Elapsed     time.Duration
	Inner       error
}

// New creates a new *Error of the given kind wrapping inner.
func New(kind Kind, inner error) *Error {
	return &Error{Kind: kind, Inner: inner}
}

// Newf creates a new *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Inner: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.OperationID != "" {
		fmt.Fprintf(&b, " (operation %s)", e.OperationID)
	}
	if e.Target != "" {
		fmt.Fprintf(&b, " [%s]", e.Target)
	}
	if e.Retries > 0 {
		fmt.Fprintf(&b, " after %d retries", e.Retries)
	}
	if e.Elapsed > 0 {
		fmt.Fprintf(&b, " in %s", e.Elapsed.Round(time.Millisecond))
	}
	if e.Inner != nil {
		b.WriteString(": ")
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Unwrap returns the next error in the error chain.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target is the sentinel error of e's kind.
func (e *Error) Is(target error) bool {
	s := sentinelFor(e.Kind)
	return s != nil && s == target
}

// KindOf returns the kind of the first *Error found in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsRetryable tells whether err is a transient failure (timeout or network failure).
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	return ok && (kind == KindTimeout || kind == KindNetworkFailure)
}

// IsFatal tells whether err can never be fixed by retrying (dependency cycle or configuration error).
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	return ok && (kind == KindDependencyCycle || kind == KindConfiguration)
}

// WithContext fills empty context fields of the first *Error in err's chain.
// If err is not classified, it is wrapped as an operation failure.
func WithContext(err error, operationID, target string, retries int, elapsed time.Duration) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindOperationFailure, Inner: err}
		err = e
	}
	if e.OperationID == "" {
		e.OperationID = operationID
	}
	if e.Target == "" {
		e.Target = target
	}
	if e.Retries == 0 {
		e.Retries = retries
	}
	if e.Elapsed == 0 {
		e.Elapsed = elapsed
	}
	return err
}
