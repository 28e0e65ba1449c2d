package types

import "time"

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time. Callers convert the
// result into the schedule's location; no zone is forced here.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// CommandSink is the producer-side contract of the command queue. Intake
// handlers, the SQS consumer and the scheduler loop depend on this rather than
// on the concrete queue.
type CommandSink interface {
	// Enqueue appends one command to the tail. It never blocks and never fails.
	Enqueue(cmd Command)

	// EnqueueAll appends cmds contiguously, in order, as a single step so no
	// drain can observe a partial batch.
	EnqueueAll(cmds ...Command)
}
