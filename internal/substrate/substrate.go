// Package substrate defines the background-job queue the import pipeline
// runs on. The queue delivers jobs at least once; handlers are expected to
// be idempotent. Delivery guarantees, retry backoff, and dead-lettering
// belong to the queue implementation, not to this package's callers.
package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Status describes what the queue knows about an enqueued job.
type Status string

const (
	// StatusPending means the job has not finished yet.
	StatusPending Status = "pending"
	// StatusDone means the job ran to completion (successfully or not).
	StatusDone Status = "done"
	// StatusUnknown means the queue has no record of the job ID.
	StatusUnknown Status = "unknown"
)

// Job is a serializable unit of background work.
type Job struct {
	// Handler is the registered handler name to dispatch to.
	Handler string `json:"handler"`
	// Args is the handler-specific JSON payload.
	Args json.RawMessage `json:"args,omitempty"`
}

// NewJob marshals args into a Job for the named handler.
func NewJob(handler string, args any) (Job, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Job{}, fmt.Errorf("marshal args for %s: %w", handler, err)
	}
	return Job{Handler: handler, Args: raw}, nil
}

// Queue is the job substrate collaborator.
type Queue interface {
	// Enqueue submits a job for immediate execution and returns its ID.
	Enqueue(ctx context.Context, job Job) (string, error)

	// ScheduleAfter submits a job to run after the given delay.
	ScheduleAfter(ctx context.Context, delay time.Duration, job Job) (string, error)

	// JobStatus reports the queue's view of a previously returned job ID.
	JobStatus(ctx context.Context, id string) (Status, error)
}

// HandlerFunc executes one job delivery.
type HandlerFunc func(ctx context.Context, args json.RawMessage) error

// Registry maps handler names to handler functions.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry builds an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds or replaces a handler by name.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Get returns a handler by name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Dispatch runs the job through its registered handler.
func (r *Registry) Dispatch(ctx context.Context, job Job) error {
	fn, ok := r.Get(job.Handler)
	if !ok {
		return ErrHandlerNotFound{Handler: job.Handler}
	}
	return fn(ctx, job.Args)
}

// ErrHandlerNotFound indicates a job referenced an unregistered handler.
type ErrHandlerNotFound struct {
	Handler string
}

func (e ErrHandlerNotFound) Error() string {
	return "job handler not found: " + e.Handler
}
