// Package memory provides the in-process stage task queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ginza777/file-box/internal/document"
)

// Queue is a bounded in-memory task queue with context-aware operations.
type Queue struct {
	ch      chan document.Task
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan document.Task, capacity),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
// Enqueueing on a closed queue reports an error rather than panicking, so
// late backoff timers racing shutdown stay harmless.
func (q *Queue) Enqueue(ctx context.Context, task document.Task) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return errors.New("queue closed")
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (document.Task, error) {
	select {
	case <-ctx.Done():
		return document.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return document.Task{}, errors.New("queue closed")
		}
		return task, nil
	}
}

// Len reports the number of queued tasks.
func (q *Queue) Len() int { return len(q.ch) }

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
