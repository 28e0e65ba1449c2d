package scheduler

import (
	"time"

	"emobridge/internal/types"
)

// TriggerTracker remembers which entries already fired in the current minute.
// It is owned by the scheduler loop goroutine and is not safe for concurrent
// use.
type TriggerTracker struct {
	fired map[types.TriggerKey]struct{}

	// window is the Unix time of the minute the fired set belongs to.
	// Zero until the first reset.
	window int64
}

// NewTriggerTracker returns an empty tracker.
func NewTriggerTracker() *TriggerTracker {
	return &TriggerTracker{fired: make(map[types.TriggerKey]struct{})}
}

// IsDue reports whether entry's trigger minute matches now and it has not
// fired yet in that minute.
func (t *TriggerTracker) IsDue(entry types.ScheduleEntry, now time.Time) bool {
	if !entry.DueAt(now) {
		return false
	}
	_, done := t.fired[entry.Key()]
	return !done
}

// MarkFired records that entry fired in its trigger minute.
func (t *TriggerTracker) MarkFired(entry types.ScheduleEntry) {
	t.fired[entry.Key()] = struct{}{}
}

// ResetIfNewMinute clears the fired set the first time it sees a minute
// other than the one the set belongs to. Calls within the same minute are
// no-ops. It reports whether the set was cleared.
func (t *TriggerTracker) ResetIfNewMinute(now time.Time) bool {
	minute := types.TruncateToMinute(now).Unix()
	if minute == t.window {
		return false
	}
	t.window = minute
	if len(t.fired) == 0 {
		return false
	}
	clear(t.fired)
	return true
}

// Fired returns how many keys are recorded for the current window.
func (t *TriggerTracker) Fired() int {
	return len(t.fired)
}
