package backend

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("task queue closed")

// taskQueue is an unbounded FIFO of run ids with a pending decision task.
//
// Waiters select on Wait together with their context so that a cancelled
// poller never hangs. The signal channel has a buffer of one and coalesces
// wake-ups; a dequeue that leaves work behind re-arms it for the next
// waiter.
type taskQueue struct {
	mu     sync.Mutex
	runs   []string
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{signal: make(chan struct{}, 1)}
}

// Enqueue adds a run id. Returns false if the queue is closed.
func (q *taskQueue) Enqueue(runID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.runs = append(q.runs, runID)
	q.notify()
	return true
}

// TryDequeue removes the front run id without blocking.
func (q *taskQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.runs) == 0 {
		return "", false
	}
	id := q.runs[0]
	if len(q.runs) == 1 {
		q.runs = q.runs[:0]
	} else {
		q.runs = q.runs[1:]
		q.notify()
	}
	return id, true
}

// Dequeue blocks until a run id is available, the queue is closed or ctx
// is done.
func (q *taskQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		if id, ok := q.TryDequeue(); ok {
			return id, nil
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", errQueueClosed
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued run ids.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.runs)
}

// Close wakes every waiter; later enqueues are rejected.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// notify must be called with mu held.
func (q *taskQueue) notify() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
