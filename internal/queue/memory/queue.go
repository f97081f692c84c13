// Package memory provides the bounded in-process hand-off queue between the
// submit handler and the crash-mover workers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackwatch/crash-collector/internal/collector"
)

// Queue is a bounded FIFO with context-aware operations. Enqueue blocks when
// the queue is at capacity; that blocking is the collector's only
// backpressure channel.
type Queue struct {
	ch      chan *collector.CrashReport
	closeMu sync.Mutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	return &Queue{
		ch: make(chan *collector.CrashReport, capacity),
	}
}

// Enqueue pushes a crash report or returns if the context ends first.
func (q *Queue) Enqueue(ctx context.Context, report *collector.CrashReport) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- report:
		return nil
	}
}

// Dequeue pops the next crash report, respecting context cancellation.
// After Close, queued reports continue to drain; collector.ErrQueueClosed
// signals empty.
func (q *Queue) Dequeue(ctx context.Context) (*collector.CrashReport, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case report, ok := <-q.ch:
		if !ok {
			return nil, collector.ErrQueueClosed
		}
		return report, nil
	}
}

// Len reports how many crash reports are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Safe to call twice.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
