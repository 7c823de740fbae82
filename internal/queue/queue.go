// Package queue provides the thread-safe FIFO holding accepted events
// pending persistence.
package queue

import (
	"sync"

	"github.com/xtxerr/statbot/internal/event"
)

// Queue is a mutex-guarded FIFO of log events. Push never blocks and never
// performs I/O; Pop returns nil when the queue is empty.
type Queue struct {
	mu    sync.Mutex
	items []*event.LogEvent
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends an event.
func (q *Queue) Push(ev *event.LogEvent) {
	if ev == nil {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
}

// Pop removes and returns the oldest event, or nil when empty.
func (q *Queue) Pop() *event.LogEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	// Reclaim the backing array once fully drained.
	if len(q.items) == 0 {
		q.items = nil
	}

	return ev
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
