package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nucleus/migrate-core/internal/cache"
	"github.com/nucleus/migrate-core/internal/source"
	"github.com/nucleus/migrate-core/internal/state"
	"github.com/nucleus/migrate-core/internal/substrate"
)

const (
	// defaultPollInterval is the first barrier re-check delay.
	defaultPollInterval = 10 * time.Second
	// defaultMaxInterval caps the re-check delay growth.
	defaultMaxInterval = 5 * time.Minute
	// defaultMaxEmptyPolls bounds how often a waiter whose jobs are all
	// unknown to the substrate is re-checked before its jobs are treated
	// as lost.
	defaultMaxEmptyPolls = 10
)

// Waiter references one group of in-flight jobs a stage fanned out. The
// remaining-count lives in the idempotency cache under Key; JobIDs are the
// originally enqueued substrate job IDs.
type Waiter struct {
	Key    string   `json:"key"`
	JobIDs []string `json:"jobIds"`
}

// AdvanceRequest is the barrier's job payload. Repo travels with the
// request so the next stage's job can be built without a lookup.
type AdvanceRequest struct {
	ProjectID string      `json:"projectId"`
	Repo      source.Repo `json:"repo"`
	Waiters   []Waiter    `json:"waiters"`
	NextStage string      `json:"nextStage"`
	Attempt   int         `json:"attempt"`
}

// Barrier detects when all of a stage's jobs have completed and then
// dispatches the next stage exactly once. It never blocks a worker: when
// jobs are still pending it re-enqueues itself after a bounded delay and
// returns immediately, keeping all mutable state in the cache so
// redelivered invocations stay idempotent.
type Barrier struct {
	queue  substrate.Queue
	cache  cache.Cache
	states state.Store
	table  *StageTable

	// Dispatch starts the handler for the next stage and returns its job ID.
	Dispatch func(ctx context.Context, req AdvanceRequest) (string, error)

	stateTTL      time.Duration
	pollInterval  time.Duration
	maxInterval   time.Duration
	maxEmptyPolls int
}

// NewBarrier creates a barrier over the given collaborators.
func NewBarrier(queue substrate.Queue, c cache.Cache, states state.Store, table *StageTable) *Barrier {
	return &Barrier{
		queue:         queue,
		cache:         c,
		states:        states,
		table:         table,
		stateTTL:      state.DefaultExpiry,
		pollInterval:  defaultPollInterval,
		maxInterval:   defaultMaxInterval,
		maxEmptyPolls: defaultMaxEmptyPolls,
	}
}

// SetPollInterval overrides the re-check schedule. Test hook.
func (b *Barrier) SetPollInterval(base, max time.Duration) {
	b.pollInterval = base
	b.maxInterval = max
}

// SetMaxEmptyPolls overrides the lost-job cutoff. Test hook.
func (b *Barrier) SetMaxEmptyPolls(n int) { b.maxEmptyPolls = n }

// NewWaiter registers a waiter for the given job IDs, storing its
// remaining-count in the cache.
func (b *Barrier) NewWaiter(ctx context.Context, key string, jobIDs []string) (Waiter, error) {
	if err := b.cache.CounterSet(ctx, key, len(jobIDs)); err != nil {
		return Waiter{}, fmt.Errorf("register waiter %s: %w", key, err)
	}
	return Waiter{Key: key, JobIDs: jobIDs}, nil
}

// Advance runs one barrier check. Invoked by the substrate as the
// "advance_stage" handler.
func (b *Barrier) Advance(ctx context.Context, req AdvanceRequest) error {
	// A missing import state means the import was deleted or cancelled;
	// the barrier stops re-enqueueing itself and takes no further action.
	if _, err := b.states.Get(ctx, req.ProjectID); err != nil {
		if isNotFound(err) {
			log.Printf("advance-stage: import state gone for %s, aborting", req.ProjectID)
			return nil
		}
		return fmt.Errorf("load import state: %w", err)
	}

	// Keep the watchdog off a healthy, long-polling import.
	if err := b.states.RefreshExpiry(ctx, req.ProjectID, b.stateTTL); err != nil {
		return fmt.Errorf("refresh import expiry: %w", err)
	}

	remaining := make([]Waiter, 0, len(req.Waiters))
	anyTracked := false
	for _, w := range req.Waiters {
		keep, tracked, err := b.checkWaiter(ctx, w)
		if err != nil {
			return err
		}
		if tracked {
			anyTracked = true
		}
		if keep {
			remaining = append(remaining, w)
		}
	}

	if len(remaining) > 0 {
		return b.reschedule(ctx, req, remaining)
	}

	// Every waiter key was already gone on entry: a redelivery after a
	// completed advance. The next stage is already running.
	if !anyTracked {
		return nil
	}

	return b.dispatchNext(ctx, req)
}

// checkWaiter polls one waiter's jobs. It returns keep=true when the
// waiter still has pending work, and tracked=false when the waiter's
// cache key no longer existed (it was drained by an earlier invocation).
func (b *Barrier) checkWaiter(ctx context.Context, w Waiter) (keep, tracked bool, err error) {
	cached, exists, err := b.cache.CounterGet(ctx, w.Key)
	if err != nil {
		return false, false, fmt.Errorf("read waiter %s: %w", w.Key, err)
	}
	if !exists {
		return false, false, nil
	}

	pending, unknown := 0, 0
	for _, id := range w.JobIDs {
		status, err := b.queue.JobStatus(ctx, id)
		if err != nil {
			return false, true, fmt.Errorf("poll job %s: %w", id, err)
		}
		switch status {
		case substrate.StatusPending:
			pending++
		case substrate.StatusUnknown:
			unknown++
		}
	}

	if pending > 0 {
		// Only ever overwrite in the direction of fewer remaining.
		if pending < cached {
			if err := b.cache.CounterSet(ctx, w.Key, pending); err != nil {
				return false, true, fmt.Errorf("update waiter %s: %w", w.Key, err)
			}
		}
		return true, true, nil
	}

	if unknown > 0 {
		// Jobs the substrate no longer knows about: either they finished
		// long ago or they were lost. Give them a bounded number of polls
		// before treating them as completed-with-failure so one lost job
		// cannot wedge the import forever.
		pollsKey := w.Key + ":empty-polls"
		polls, _, err := b.cache.CounterGet(ctx, pollsKey)
		if err != nil {
			return false, true, fmt.Errorf("read poll count for %s: %w", w.Key, err)
		}
		polls++
		if polls < b.maxEmptyPolls {
			if err := b.cache.CounterSet(ctx, pollsKey, polls); err != nil {
				return false, true, fmt.Errorf("update poll count for %s: %w", w.Key, err)
			}
			return true, true, nil
		}
		log.Printf("advance-stage: %d job(s) of waiter %s lost after %d polls, treating as failed",
			unknown, w.Key, polls)
	}

	if err := b.cache.Delete(ctx, w.Key); err != nil {
		return false, true, fmt.Errorf("drop waiter %s: %w", w.Key, err)
	}
	if err := b.cache.Delete(ctx, w.Key+":empty-polls"); err != nil {
		return false, true, fmt.Errorf("drop poll count for %s: %w", w.Key, err)
	}
	return false, true, nil
}

// reschedule hands the next check back to the substrate instead of
// sleeping a worker thread.
func (b *Barrier) reschedule(ctx context.Context, req AdvanceRequest, remaining []Waiter) error {
	next := req
	next.Waiters = remaining
	next.Attempt = req.Attempt + 1
	job, err := substrate.NewJob(HandlerAdvanceStage, next)
	if err != nil {
		return err
	}
	if _, err := b.queue.ScheduleAfter(ctx, b.delay(req.Attempt), job); err != nil {
		return fmt.Errorf("reschedule advance-stage: %w", err)
	}
	return nil
}

// delay grows the re-check interval exponentially up to the cap.
func (b *Barrier) delay(attempt int) time.Duration {
	d := b.pollInterval
	for i := 0; i < attempt && d < b.maxInterval; i++ {
		d *= 2
	}
	if d > b.maxInterval {
		d = b.maxInterval
	}
	return d
}

// dispatchNext moves the pipeline to the next stage.
func (b *Barrier) dispatchNext(ctx context.Context, req AdvanceRequest) error {
	if !b.table.Contains(req.NextStage) {
		err := fmt.Errorf("unknown next stage %q", req.NextStage)
		b.fail(ctx, req.ProjectID, err)
		return err
	}
	jobID, err := b.Dispatch(ctx, req)
	if err != nil {
		return fmt.Errorf("dispatch stage %s: %w", req.NextStage, err)
	}
	if err := b.states.SetJobID(ctx, req.ProjectID, jobID); err != nil {
		return fmt.Errorf("record stage job: %w", err)
	}
	return nil
}

func (b *Barrier) fail(ctx context.Context, projectID string, cause error) {
	if err := b.states.SetLastError(ctx, projectID, cause.Error(), nil); err != nil {
		log.Printf("advance-stage: record failure for %s: %v", projectID, err)
	}
	if err := b.states.SetStatus(ctx, projectID, state.StatusFailed); err != nil {
		log.Printf("advance-stage: mark %s failed: %v", projectID, err)
	}
}
