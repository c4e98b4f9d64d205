package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maltedev/business-contact-scraper/internal/models"
)

var ErrQueueClosed = errors.New("queue is closed")

// Task is a pending run waiting for a worker.
type Task struct {
	Run       *models.Run
	Request   models.Request
	Priority  int
	CreatedAt time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// InMemoryQueue orders tasks by priority, then by arrival.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  []*Task
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	q.tasks = append(q.tasks, task)
	slices.SortStableFunc(q.tasks, func(a, b *Task) int {
		return b.Priority - a.Priority
	})
	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop blocks until a task is available, the queue is closed and drained, or
// ctx is done.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			more := len(q.tasks) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		case <-q.done:
		}
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting tasks. Queued tasks can still be popped.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

func (q *InMemoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
