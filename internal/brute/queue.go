package brute

import (
	"context"
	"sync"
	"time"

	"ntlm-brute/internal/creds"
)

// Queue is an unbounded FIFO of untested pairs shared by all workers. It has
// a single producer and any number of consumers.
type Queue struct {
	mu     sync.Mutex
	items  []creds.Pair
	closed bool
	// changed is closed and replaced whenever items or closed change.
	changed chan struct{}
}

func NewQueue() *Queue {
	return &Queue{changed: make(chan struct{})}
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Enqueue appends a pair. It never blocks and reports false once the queue
// has been closed.
func (q *Queue) Enqueue(p creds.Pair) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, p)
	q.notifyLocked()
	return true
}

// Close signals that no more pairs will be enqueued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}

// Dequeue removes the oldest pair. When the queue is empty it waits until a
// pair arrives, the queue is closed, ctx is done or timeout elapses; the last
// three report false. A timeout <= 0 waits for Close alone.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (creds.Pair, bool) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			q.items[0] = creds.Pair{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return p, true
		}
		if q.closed {
			q.mu.Unlock()
			return creds.Pair{}, false
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-expired:
			return creds.Pair{}, false
		case <-ctx.Done():
			return creds.Pair{}, false
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
