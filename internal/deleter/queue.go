package deleter

import (
	"context"
	"sync/atomic"
)

// Queue is the bounded task queue between the enumerator and the workers.
// A buffered channel provides the bounds and the backpressure: Enqueue
// blocks while the queue is full, so no task is ever dropped and the queue
// length never exceeds its capacity.
type Queue struct {
	tasks    chan Task
	enqueued atomic.Int64
}

// NewQueue creates a queue with the given capacity
func NewQueue(capacity int) *Queue {
	return &Queue{
		tasks: make(chan Task, capacity),
	}
}

// Enqueue pushes all given tasks, blocking while the queue is full. It
// returns early only when the context is cancelled; tasks accepted before
// that point stay queued.
func (q *Queue) Enqueue(ctx context.Context, tasks []Task) error {
	for _, task := range tasks {
		select {
		case q.tasks <- task:
			q.enqueued.Add(1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// TryDequeue pops one task without blocking
func (q *Queue) TryDequeue() (Task, bool) {
	select {
	case task := <-q.tasks:
		return task, true
	default:
		return Task{}, false
	}
}

// Len returns the current queue depth
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Enqueued returns the total number of tasks ever accepted, for the
// end-of-run summary.
func (q *Queue) Enqueued() int64 {
	return q.enqueued.Load()
}
