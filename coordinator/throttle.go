/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/mlandesman/sams-reqkit/scheduler"
)

// priorityWeight scales the throttle delay: critical work waits least.
func priorityWeight(p scheduler.Priority) float64 {
	switch {
	case p >= scheduler.PriorityCritical:
		return 0.25
	case p == scheduler.PriorityHigh:
		return 0.5
	case p <= scheduler.PriorityLow:
		return 2
	}
	return 1
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

type throttler struct {
	cfg      ThrottleConfig
	memUsage func() uint64
	active   func() int
}

// delay returns how long admission of a group is postponed, zero if resources are not under pressure.
func (t *throttler) delay(groupSize int, priority scheduler.Priority) time.Duration {
	if !t.cfg.Enabled || groupSize == 0 {
		return 0
	}
	overMemory := t.cfg.MemoryThreshold > 0 && t.memUsage() > uint64(t.cfg.MemoryThreshold)
	overActive := t.cfg.ActiveThreshold > 0 && t.active() > t.cfg.ActiveThreshold
	if !overMemory && !overActive {
		return 0
	}
	d := time.Duration(float64(t.cfg.BaseDelay) * math.Sqrt(float64(groupSize)) * priorityWeight(priority))
	if t.cfg.MaxDelay > 0 && d > t.cfg.MaxDelay {
		d = t.cfg.MaxDelay
	}
	return d
}

// wait sleeps for the delay unless ctx is done first.
func (t *throttler) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
