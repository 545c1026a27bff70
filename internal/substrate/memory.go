package substrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryJob struct {
	id  string
	job Job
	due time.Time
}

// Memory is an in-process Queue for tests and single-process runs. Jobs are
// executed explicitly through RunDue/Drain so tests control interleaving.
type Memory struct {
	registry *Registry

	mu      sync.Mutex
	now     time.Time
	pending []memoryJob
	done    map[string]struct{}
}

// NewMemory creates a memory queue dispatching through the given registry.
func NewMemory(registry *Registry) *Memory {
	return &Memory{
		registry: registry,
		now:      time.Now(),
		done:     make(map[string]struct{}),
	}
}

func (m *Memory) Enqueue(ctx context.Context, job Job) (string, error) {
	return m.ScheduleAfter(ctx, 0, job)
}

func (m *Memory) ScheduleAfter(ctx context.Context, delay time.Duration, job Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.pending = append(m.pending, memoryJob{id: id, job: job, due: m.now.Add(delay)})
	return id, nil
}

func (m *Memory) JobStatus(ctx context.Context, id string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusUnknown, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.done[id]; ok {
		return StatusDone, nil
	}
	for _, p := range m.pending {
		if p.id == id {
			return StatusPending, nil
		}
	}
	return StatusUnknown, nil
}

// Forget drops all record of a job ID, simulating a lost job. Test hook.
func (m *Memory) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.done, id)
	for i, p := range m.pending {
		if p.id == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// Advance moves the queue's clock forward so delayed jobs become due.
func (m *Memory) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// PendingCount returns the number of jobs not yet executed.
func (m *Memory) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// takeDue removes and returns jobs due at the current clock, oldest first.
func (m *Memory) takeDue() []memoryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due, rest []memoryJob
	for _, p := range m.pending {
		if !p.due.After(m.now) {
			due = append(due, p)
		} else {
			rest = append(rest, p)
		}
	}
	m.pending = rest
	sort.SliceStable(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	return due
}

// RunDue executes every job due at the current clock, including jobs those
// handlers enqueue with no delay. Handler errors are collected, not fatal:
// a real substrate would retry and eventually dead-letter them.
func (m *Memory) RunDue(ctx context.Context) error {
	var errs []error
	for {
		due := m.takeDue()
		if len(due) == 0 {
			return errors.Join(errs...)
		}
		for _, p := range due {
			if err := m.registry.Dispatch(ctx, p.job); err != nil {
				errs = append(errs, fmt.Errorf("job %s (%s): %w", p.id, p.job.Handler, err))
			}
			m.mu.Lock()
			m.done[p.id] = struct{}{}
			m.mu.Unlock()
		}
	}
}

// Drain repeatedly runs due jobs, jumping the clock to the next scheduled
// job when nothing is currently due, until the queue is empty or maxJumps
// clock jumps have happened.
func (m *Memory) Drain(ctx context.Context, maxJumps int) error {
	for jumps := 0; ; jumps++ {
		if err := m.RunDue(ctx); err != nil {
			return err
		}
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return nil
		}
		next := m.pending[0].due
		for _, p := range m.pending[1:] {
			if p.due.Before(next) {
				next = p.due
			}
		}
		m.now = next
		m.mu.Unlock()
		if jumps >= maxJumps {
			return fmt.Errorf("queue not drained after %d clock jumps", maxJumps)
		}
	}
}
