package task

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by job queues
var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrQueueFull   = errors.New("job queue is full")
)

// Queue carries job IDs to workers once their run time has arrived.
// Delivery is at least once.
type Queue interface {
	// Enqueue schedules jobID for delivery at runAt. A bounded queue may
	// block while full until ctx is done.
	Enqueue(ctx context.Context, jobID uuid.UUID, runAt time.Time) error

	// Dequeue blocks until a job is due, ctx is done, or the queue is closed
	Dequeue(ctx context.Context) (uuid.UUID, error)

	// Close stops delivery; blocked Dequeue calls return ErrQueueClosed
	Close() error
}

type queueEntry struct {
	jobID uuid.UUID
	runAt time.Time
}

type entryHeap []queueEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].runAt.Before(h[j].runAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(queueEntry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// MemoryQueue is an in-process delayed queue ordered by run time.
type MemoryQueue struct {
	mu      sync.Mutex
	entries entryHeap
	size    int
	wake    chan struct{}
	room    chan struct{}
	done    chan struct{}
	closed  bool
	logger  *slog.Logger
}

// NewMemoryQueue creates a queue holding at most size entries
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		size:   size,
		wake:   make(chan struct{}, 1),
		room:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Enqueue adds a job to the queue for delivery at runAt. While the queue is
// full it waits for a Dequeue to make room; if ctx ends first it returns
// ErrQueueFull. Returns ErrQueueClosed once the queue is closed.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID uuid.UUID, runAt time.Time) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.size <= 0 || len(q.entries) < q.size {
			break
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: queue capacity %d reached: %w", ErrQueueFull, q.size, ctx.Err())
		case <-q.done:
			return ErrQueueClosed
		case <-q.room:
		}
	}
	heap.Push(&q.entries, queueEntry{jobID: jobID, runAt: runAt})
	queueLen := len(q.entries)
	hasRoom := q.size <= 0 || queueLen < q.size
	q.mu.Unlock()

	q.signal()
	// Pass room on to the next waiting producer
	if hasRoom {
		notify(q.room)
	}

	q.logger.Debug("job enqueued",
		"job_id", jobID,
		"run_at", runAt,
		"queue_len", queueLen,
		"queue_cap", q.size)
	return nil
}

// Dequeue returns the next due job ID.
func (q *MemoryQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return uuid.Nil, ErrQueueClosed
		}

		wait := time.Duration(-1)
		if len(q.entries) > 0 {
			next := q.entries[0]
			wait = time.Until(next.runAt)
			if wait <= 0 {
				heap.Pop(&q.entries)
				remaining := len(q.entries)
				q.mu.Unlock()

				// Hand the wake-up on so that another idle worker sees what is left.
				if remaining > 0 {
					q.signal()
				}
				notify(q.room)
				return next.jobID, nil
			}
		}
		q.mu.Unlock()

		var timer *time.Timer
		var fire <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return uuid.Nil, ctx.Err()
		case <-q.done:
			stopTimer(timer)
			return uuid.Nil, ErrQueueClosed
		case <-q.wake:
			stopTimer(timer)
		case <-fire:
		}
	}
}

// Close closes the job queue, preventing further job submission
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.done)
		q.logger.Info("job queue closed", "dropped", len(q.entries))
	}
	return nil
}

// Len returns the number of scheduled entries.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MemoryQueue) signal() {
	notify(q.wake)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
