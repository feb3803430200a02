package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler executes one task. It MUST poll Runner.Cancelled(taskID) between
// phases and stop promptly when it reports true (spec §4.3 "Cancellation").
type Handler func(ctx context.Context, t Task, emit func(Event)) error

// Runner drives a single worker goroutine over a Queue, enforcing "exactly
// one task per document may be in flight" de-duplication and cooperative
// cancellation (spec §4.3). Multiple worker processes may each run their own
// Runner in parallel; within one process at most one task executes at a time.
type Runner struct {
	queue   Queue
	bus     *Bus
	handler Handler

	mu        sync.Mutex
	inFlight  map[string]string // dedupeKey -> task id
	cancelled map[string]*atomic.Bool
}

// NewRunner wires a queue, event bus, and handler together. Call Run in a
// dedicated goroutine to start the single worker loop.
func NewRunner(q Queue, bus *Bus, handler Handler) *Runner {
	return &Runner{
		queue:     q,
		bus:       bus,
		handler:   handler,
		inFlight:  make(map[string]string),
		cancelled: make(map[string]*atomic.Bool),
	}
}

// Submit enqueues a task unless one with the same DedupeKey is already
// pending or processing, in which case it is a no-op and the existing task id
// is returned (spec §4.3: "submitting a second is a no-op").
func (r *Runner) Submit(ctx context.Context, kind, dedupeKey string, payload any) (string, error) {
	r.mu.Lock()
	if existing, ok := r.inFlight[dedupeKey]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	id := uuid.NewString()
	r.inFlight[dedupeKey] = id
	r.cancelled[id] = &atomic.Bool{}
	r.mu.Unlock()

	t := Task{ID: id, Kind: kind, DedupeKey: dedupeKey, Payload: payload}
	r.bus.Publish(id, Event{Status: StatusPending, Progress: 0})

	if err := r.queue.Enqueue(ctx, t); err != nil {
		r.release(t)
		return "", fmt.Errorf("task: enqueue: %w", err)
	}
	return id, nil
}

// Cancel flips the cooperative cancellation flag for a running task. The
// handler observes it on its next poll (spec §4.3 "Cancellation").
func (r *Runner) Cancel(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if flag, ok := r.cancelled[taskID]; ok {
		flag.Store(true)
	}
}

// Cancelled reports whether taskID has a pending cancellation request.
// Handlers call this between ingestion phases.
func (r *Runner) Cancelled(taskID string) bool {
	r.mu.Lock()
	flag, ok := r.cancelled[taskID]
	r.mu.Unlock()
	return ok && flag.Load()
}

// Run pulls tasks off the queue and executes them one at a time on the
// calling goroutine (spec §4.3 "single-threaded cooperative per worker
// process"). It returns when ctx is cancelled or the queue closes.
func (r *Runner) Run(ctx context.Context) {
	for {
		t, err := r.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		r.execute(ctx, t)
	}
}

func (r *Runner) execute(ctx context.Context, t Task) {
	defer r.release(t)

	r.bus.Publish(t.ID, Event{Status: StatusProcessing, Progress: 0})

	emit := func(ev Event) { r.bus.Publish(t.ID, ev) }

	if err := r.handler(ctx, t, emit); err != nil {
		slog.Warn("task: handler failed", "task_id", t.ID, "kind", t.Kind, "error", err)
		r.bus.Publish(t.ID, Event{Status: StatusFailed, Message: err.Error()})
		return
	}

	r.bus.Publish(t.ID, Event{Status: StatusCompleted, Progress: 100})
}

func (r *Runner) release(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[t.DedupeKey] == t.ID {
		delete(r.inFlight, t.DedupeKey)
	}
	delete(r.cancelled, t.ID)
}
