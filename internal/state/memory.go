package state

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and single-process runs.
type Memory struct {
	mu     sync.Mutex
	states map[string]*ImportState
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[string]*ImportState)}
}

func (m *Memory) Get(ctx context.Context, projectID string) (*ImportState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[projectID]
	if !ok {
		return nil, ErrNotFound{ProjectID: projectID}
	}
	copied := *st
	return &copied, nil
}

func (m *Memory) Reset(ctx context.Context, projectID string) (*ImportState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &ImportState{
		ProjectID: projectID,
		Status:    StatusScheduled,
		ExpiresAt: time.Now().Add(DefaultExpiry),
		UpdatedAt: time.Now(),
	}
	m.states[projectID] = st
	copied := *st
	return &copied, nil
}

func (m *Memory) update(projectID string, fn func(*ImportState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[projectID]
	if !ok {
		return ErrNotFound{ProjectID: projectID}
	}
	fn(st)
	st.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetStatus(ctx context.Context, projectID string, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.update(projectID, func(st *ImportState) { st.Status = status })
}

func (m *Memory) SetJobID(ctx context.Context, projectID, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.update(projectID, func(st *ImportState) { st.JobID = jobID })
}

func (m *Memory) RefreshExpiry(ctx context.Context, projectID string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.update(projectID, func(st *ImportState) { st.ExpiresAt = time.Now().Add(ttl) })
}

func (m *Memory) SetLastError(ctx context.Context, projectID, message string, details json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.update(projectID, func(st *ImportState) {
		st.LastError = message
		st.ErrorDetails = details
	})
}

func (m *Memory) Delete(ctx context.Context, projectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, projectID)
	return nil
}
