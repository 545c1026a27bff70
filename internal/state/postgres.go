package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a shared Postgres instance.
type Postgres struct {
	pool *pgxpool.Pool
}

const importStateSchema = `
CREATE TABLE IF NOT EXISTS import_states (
    project_id    TEXT        PRIMARY KEY,
    status        TEXT        NOT NULL,
    job_id        TEXT        NOT NULL DEFAULT '',
    last_error    TEXT        NOT NULL DEFAULT '',
    error_details JSONB,
    expires_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPostgres creates a Postgres-backed store and ensures its table exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, importStateSchema); err != nil {
		return nil, fmt.Errorf("ensure import state schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, projectID string) (*ImportState, error) {
	st := &ImportState{ProjectID: projectID}
	var details []byte
	err := p.pool.QueryRow(ctx, `
		SELECT status, job_id, last_error, error_details, expires_at, updated_at
		FROM import_states WHERE project_id = $1`, projectID).
		Scan(&st.Status, &st.JobID, &st.LastError, &details, &st.ExpiresAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound{ProjectID: projectID}
		}
		return nil, fmt.Errorf("get import state %s: %w", projectID, err)
	}
	st.ErrorDetails = json.RawMessage(details)
	return st, nil
}

func (p *Postgres) Reset(ctx context.Context, projectID string) (*ImportState, error) {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO import_states (project_id, status, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (project_id) DO UPDATE
		SET status = EXCLUDED.status,
		    job_id = '',
		    last_error = '',
		    error_details = NULL,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()`,
		projectID, StatusScheduled, DefaultExpiry.Seconds())
	if err != nil {
		return nil, fmt.Errorf("reset import state %s: %w", projectID, err)
	}
	return p.Get(ctx, projectID)
}

func (p *Postgres) exec(ctx context.Context, projectID, query string, args ...any) error {
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update import state %s: %w", projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound{ProjectID: projectID}
	}
	return nil
}

func (p *Postgres) SetStatus(ctx context.Context, projectID string, status Status) error {
	return p.exec(ctx, projectID, `
		UPDATE import_states SET status = $2, updated_at = now()
		WHERE project_id = $1`, projectID, status)
}

func (p *Postgres) SetJobID(ctx context.Context, projectID, jobID string) error {
	return p.exec(ctx, projectID, `
		UPDATE import_states SET job_id = $2, updated_at = now()
		WHERE project_id = $1`, projectID, jobID)
}

func (p *Postgres) RefreshExpiry(ctx context.Context, projectID string, ttl time.Duration) error {
	return p.exec(ctx, projectID, `
		UPDATE import_states
		SET expires_at = now() + make_interval(secs => $2), updated_at = now()
		WHERE project_id = $1`, projectID, ttl.Seconds())
}

func (p *Postgres) SetLastError(ctx context.Context, projectID, message string, details json.RawMessage) error {
	return p.exec(ctx, projectID, `
		UPDATE import_states
		SET last_error = $2, error_details = $3, updated_at = now()
		WHERE project_id = $1`, projectID, message, []byte(details))
}

func (p *Postgres) Delete(ctx context.Context, projectID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM import_states WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("delete import state %s: %w", projectID, err)
	}
	return nil
}
