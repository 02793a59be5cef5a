/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"fmt"
	"strings"

	"github.com/mlandesman/sams-reqkit/reqerr"
	"github.com/mlandesman/sams-reqkit/scheduler"
)

// Strategy defines how operations of a batch are grouped for execution.
type Strategy int

// Execution strategies.
const (
	StrategyAuto Strategy = iota
	StrategyParallel
	StrategySequential
	StrategyMixed
)

// String returns the string representation of Strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyParallel:
		return "parallel"
	case StrategySequential:
		return "sequential"
	case StrategyMixed:
		return "mixed"
	}
	return "unknown"
}

// FailureStrategy defines what happens to the batch when an operation fails.
type FailureStrategy int

// Failure strategies.
const (
	// FailureContinue runs every operation regardless of individual failures.
	FailureContinue FailureStrategy = iota
	// FailureFast stops starting new operations after the first failure.
	FailureFast
	// FailureRetryFailed behaves as FailureContinue. Per-operation retries are configured by Operation.Retry.
	FailureRetryFailed
)

// String returns the string representation of FailureStrategy.
func (f FailureStrategy) String() string {
	switch f {
	case FailureContinue:
		return "continue"
	case FailureFast:
		return "fail-fast"
	case FailureRetryFailed:
		return "retry-failed"
	}
	return "unknown"
}

// ParseStrategy parses a strategy name. Empty string means auto.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return StrategyAuto, nil
	case "parallel":
		return StrategyParallel, nil
	case "sequential":
		return StrategySequential, nil
	case "mixed":
		return StrategyMixed, nil
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}

// ParseFailureStrategy parses a failure strategy name. Empty string means continue.
func ParseFailureStrategy(s string) (FailureStrategy, error) {
	switch strings.ToLower(s) {
	case "", "continue":
		return FailureContinue, nil
	case "fail-fast":
		return FailureFast, nil
	case "retry-failed":
		return FailureRetryFailed, nil
	}
	return 0, fmt.Errorf("unknown failure strategy %q", s)
}

// resolveStrategy picks mixed if any operation has dependencies,
// sequential if more than half of the operations are critical, and parallel otherwise.
func resolveStrategy(ops []Operation) Strategy {
	critical := 0
	for i := range ops {
		if len(ops[i].Dependencies) > 0 {
			return StrategyMixed
		}
		if ops[i].Priority == scheduler.PriorityCritical {
			critical++
		}
	}
	if critical*2 > len(ops) {
		return StrategySequential
	}
	return StrategyParallel
}

// validate checks ids and dependency references, detects cycles,
// and checks that the strategy can honour the dependencies.
func validate(ops []Operation, strategy Strategy) error {
	index := make(map[string]int, len(ops))
	for i := range ops {
		op := &ops[i]
		if op.ID == "" {
			return reqerr.Newf(reqerr.KindConfiguration, "operation #%d has empty id", i+1)
		}
		if _, dup := index[op.ID]; dup {
			return reqerr.Newf(reqerr.KindConfiguration, "duplicate operation id %q", op.ID)
		}
		if op.Exec == nil {
			return reqerr.Newf(reqerr.KindConfiguration, "operation %q has no executor", op.ID)
		}
		if op.Timeout < 0 {
			return reqerr.Newf(reqerr.KindConfiguration, "operation %q has negative timeout", op.ID)
		}
		index[op.ID] = i
	}
	for i := range ops {
		for _, dep := range ops[i].Dependencies {
			if _, ok := index[dep]; !ok {
				return reqerr.Newf(reqerr.KindConfiguration, "operation %q depends on unknown operation %q", ops[i].ID, dep)
			}
		}
	}
	if cycle := findCycle(ops, index); cycle != nil {
		return reqerr.Newf(reqerr.KindDependencyCycle, "dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	switch strategy {
	case StrategyParallel:
		for i := range ops {
			if len(ops[i].Dependencies) > 0 {
				return reqerr.Newf(reqerr.KindConfiguration,
					"operation %q has dependencies, parallel strategy cannot honour them", ops[i].ID)
			}
		}
	case StrategySequential:
		for i := range ops {
			for _, dep := range ops[i].Dependencies {
				if index[dep] > i {
					return reqerr.Newf(reqerr.KindConfiguration,
						"operation %q precedes its dependency %q in sequential order", ops[i].ID, dep)
				}
			}
		}
	}
	return nil
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// findCycle returns the ids forming a dependency cycle (the first id repeated at the end), or nil.
func findCycle(ops []Operation, index map[string]int) []string {
	colors := make([]int, len(ops))
	var stack []string
	var visit func(i int) []string
	visit = func(i int) []string {
		colors[i] = colorGray
		stack = append(stack, ops[i].ID)
		for _, dep := range ops[i].Dependencies {
			j := index[dep]
			switch colors[j] {
			case colorGray:
				for k, id := range stack {
					if id == dep {
						return append(append([]string(nil), stack[k:]...), dep)
					}
				}
			case colorWhite:
				if cycle := visit(j); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[i] = colorBlack
		return nil
	}
	for i := range ops {
		if colors[i] == colorWhite {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
