/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pipeline

import "github.com/mlandesman/sams-reqkit/scheduler"

// Strategy defines how a response is requested and consumed.
type Strategy int

// Processing strategies.
const (
	StrategyBalanced Strategy = iota
	StrategySpeedFirst
	StrategyAggressiveCompression
	StrategyStreamFirst
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategySpeedFirst:
		return "speed-first"
	case StrategyAggressiveCompression:
		return "aggressive-compression"
	case StrategyStreamFirst:
		return "stream-first"
	}
	return "balanced"
}

// AllowsShaping tells whether lossy payload shaping may be applied under the strategy.
func (s Strategy) AllowsShaping() bool {
	return s == StrategySpeedFirst || s == StrategyAggressiveCompression
}

// SelectStrategy picks the strategy for a request.
// Critical priority and declared sizes above the stream threshold always stream;
// otherwise slow endpoints get compression, fast ones speed-first, and the rest the balanced strategy.
// declaredSize is negative when unknown.
func (p *Pipeline) SelectStrategy(class Class, priority scheduler.Priority, declaredSize int64) Strategy {
	switch {
	case priority >= scheduler.PriorityCritical:
		return StrategyStreamFirst
	case declaredSize > int64(p.cfg.StreamThreshold):
		return StrategyStreamFirst
	case class == ClassSlow:
		return StrategyAggressiveCompression
	case class == ClassFast:
		return StrategySpeedFirst
	}
	return StrategyBalanced
}
