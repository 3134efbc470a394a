// Package gate rate-limits reactions to file changes.
//
// The gate drops triggers that arrive during the cooldown. Nothing is queued
// and nothing fires when the cooldown ends, so this is not a debouncer.
package gate

import "time"

type IntervalGate struct {
	interval time.Duration
	last     time.Time
	cooling  bool
}

func New(interval time.Duration) *IntervalGate {
	return &IntervalGate{interval: interval}
}

func (g *IntervalGate) Interval() time.Duration {
	return g.interval
}

// ShouldAct is always true before the first recorded action, and afterwards
// only once the interval has elapsed since it.
func (g *IntervalGate) ShouldAct(now time.Time) bool {
	if !g.cooling {
		return true
	}
	return hasIntervalElapsed(g.last, now, g.interval)
}

// RecordAction sets now as the new cooldown baseline.
func (g *IntervalGate) RecordAction(now time.Time) {
	g.last = now
	g.cooling = true
}

// Remaining returns how much of the cooldown is left at now, or zero.
func (g *IntervalGate) Remaining(now time.Time) time.Duration {
	if !g.cooling {
		return 0
	}
	left := g.interval - now.Sub(g.last)
	if left < 0 {
		return 0
	}
	return left
}

// hasIntervalElapsed compares with the monotonic clock reading when both
// times carry one.
func hasIntervalElapsed(last, now time.Time, interval time.Duration) bool {
	return now.Sub(last) >= interval
}
