// Package task implements the out-of-scope message broker's local stand-in
// (spec §4.3, C5): a FIFO, at-least-once task queue plus a progress event bus
// with last-value replay, enough to drive ingestion, podcast synthesis, and
// model-download work without an actual broker binary.
package task

import (
	"context"
	"errors"
	"sync"
)

// Status enumerates the lifecycle states a task or version progress stream
// moves through (spec §4.3 "Progress").
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusDownloading  Status = "downloading"
	StatusPulling      Status = "pulling"
	StatusSynthesizing Status = "synthesizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"

	// StatusComplete is the podcast synthesis stream's terminal success value
	// (spec §4.9: distinct from the generic task/download StatusCompleted).
	StatusComplete Status = "complete"

	// StatusError is the model-download stream's terminal failure value
	// (spec §4.4 vocabulary: "downloading"|"pulling"|"completed"|"error").
	StatusError Status = "error"
)

// Event is a single progress update emitted by a running task (spec §4.3:
// "tasks emit discrete events {status, progress, message}").
type Event struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"` // 0-100
	Message  string `json:"message,omitempty"`
}

// Task is one unit of work accepted by the runner.
type Task struct {
	ID      string
	Kind    string
	DedupeKey string // e.g. "document:42"; second submission while in-flight is a no-op
	Payload any
}

// ErrQueueClosed is returned by Dequeue once the queue has been closed and
// drained.
var ErrQueueClosed = errors.New("task: queue closed")

// Queue is the minimal FIFO, at-least-once broker contract (spec §4.3,
// §9 "a real NATS/Redis backend could be swapped in later without touching
// task.Runner"). MemQueue is the only implementation provided here; the
// broker itself is explicitly out of scope.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	Dequeue(ctx context.Context) (Task, error)
	Close()
}

// MemQueue is an in-process Queue backed by a buffered channel, giving FIFO
// ordering and at-least-once delivery within a single worker process (spec
// §4.3 "single-threaded cooperative per worker process").
type MemQueue struct {
	ch     chan Task
	once   sync.Once
	closed chan struct{}
}

// NewMemQueue creates a queue with the given buffer capacity.
func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemQueue{
		ch:     make(chan Task, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue adds a task to the queue, blocking if the buffer is full.
func (q *MemQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- t:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a task is available, the context is cancelled, or the
// queue is closed.
func (q *MemQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case t, ok := <-q.ch:
		if !ok {
			return Task{}, ErrQueueClosed
		}
		return t, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// Close stops the queue; further Enqueue calls fail with ErrQueueClosed.
func (q *MemQueue) Close() {
	q.once.Do(func() {
		close(q.closed)
		close(q.ch)
	})
}
