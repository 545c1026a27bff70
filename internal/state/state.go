// Package state tracks the lifecycle of a project import.
package state

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the lifecycle phase of a project import.
type Status string

const (
	StatusNone      Status = "not_started"
	StatusScheduled Status = "scheduled"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
)

// DefaultExpiry is how long an import may go without a liveness refresh
// before an external watchdog may consider it hung.
const DefaultExpiry = 15 * time.Minute

// ImportState is the per-project import record. It is never deleted by the
// pipeline itself, only reset on re-import; deletion models cancellation.
type ImportState struct {
	ProjectID string `json:"projectId"`
	Status    Status `json:"status"`
	// JobID identifies the job currently driving the import.
	JobID string `json:"jobId,omitempty"`
	// LastError is a human-readable summary of the most recent failure.
	LastError string `json:"lastError,omitempty"`
	// ErrorDetails is the structured error list recorded by the importer.
	ErrorDetails json.RawMessage `json:"errorDetails,omitempty"`
	// ExpiresAt is the liveness deadline, refreshed while jobs make progress.
	ExpiresAt time.Time `json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists ImportStates.
type Store interface {
	// Get returns the state for a project, or ErrNotFound.
	Get(ctx context.Context, projectID string) (*ImportState, error)

	// Reset creates the state for a fresh import run, or resets an existing
	// one back to scheduled with errors cleared.
	Reset(ctx context.Context, projectID string) (*ImportState, error)

	// SetStatus transitions the import to the given status.
	SetStatus(ctx context.Context, projectID string, status Status) error

	// SetJobID records the job currently driving the import.
	SetJobID(ctx context.Context, projectID, jobID string) error

	// RefreshExpiry pushes the liveness deadline forward by ttl.
	RefreshExpiry(ctx context.Context, projectID string, ttl time.Duration) error

	// SetLastError stores the consolidated failure summary and detail list.
	SetLastError(ctx context.Context, projectID, message string, details json.RawMessage) error

	// Delete removes the state entirely. Used to model cancellation.
	Delete(ctx context.Context, projectID string) error
}

// ErrNotFound indicates no import state exists for a project.
type ErrNotFound struct {
	ProjectID string
}

func (e ErrNotFound) Error() string {
	return "import state not found: " + e.ProjectID
}
