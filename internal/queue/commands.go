// Package queue holds the in-memory command queue drained by the unit's poll
// and the SQS consumer that feeds it from upstream producers.
package queue

import (
	"sync"

	"emobridge/internal/types"
)

// CommandQueue is an unbounded FIFO of commands awaiting the unit's next poll.
// All operations are safe for concurrent use. Contents are lost on restart.
type CommandQueue struct {
	mu    sync.Mutex
	items []types.Command
}

// NewCommandQueue returns an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Enqueue appends cmd to the tail.
func (q *CommandQueue) Enqueue(cmd types.Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
}

// EnqueueAll appends cmds in order under a single lock, so a concurrent
// DrainAll sees either none or all of them.
func (q *CommandQueue) EnqueueAll(cmds ...types.Command) {
	if len(cmds) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, cmds...)
	q.mu.Unlock()
}

// DrainAll atomically removes and returns every queued command in FIFO order.
// The result is never nil, so it always encodes as a JSON array.
func (q *CommandQueue) DrainAll() []types.Command {
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.mu.Unlock()

	if out == nil {
		return []types.Command{}
	}
	return out
}

// Len reports the current depth.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

var _ types.CommandSink = (*CommandQueue)(nil)
