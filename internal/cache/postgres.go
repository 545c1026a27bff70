package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Cache backed by a shared Postgres instance, for imports whose
// jobs run across multiple worker processes.
type Postgres struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS migrate_cache_sets (
    key        TEXT        NOT NULL,
    member     TEXT        NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (key, member)
);
CREATE TABLE IF NOT EXISTS migrate_cache_counters (
    key        TEXT        PRIMARY KEY,
    value      BIGINT      NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgres creates a Postgres-backed cache and ensures its tables exist.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, ttl time.Duration) (*Postgres, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("ensure cache schema: %w", err)
	}
	return &Postgres{pool: pool, ttl: ttl}, nil
}

func (p *Postgres) SetAdd(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO migrate_cache_sets (key, member, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (key, member) DO NOTHING`,
		key, value, p.ttl.Seconds())
	if err != nil {
		return fmt.Errorf("set add %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) SetIncludes(ctx context.Context, key, value string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM migrate_cache_sets
			WHERE key = $1 AND member = $2 AND expires_at > now()
		)`, key, value).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("set includes %s: %w", key, err)
	}
	return exists, nil
}

func (p *Postgres) CounterGet(ctx context.Context, key string) (int, bool, error) {
	var value int
	err := p.pool.QueryRow(ctx, `
		SELECT value FROM migrate_cache_counters
		WHERE key = $1 AND expires_at > now()`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("counter get %s: %w", key, err)
	}
	return value, true, nil
}

func (p *Postgres) CounterSet(ctx context.Context, key string, value int) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO migrate_cache_counters (key, value, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, p.ttl.Seconds())
	if err != nil {
		return fmt.Errorf("counter set %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM migrate_cache_sets WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM migrate_cache_counters WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if _, err := p.pool.Exec(ctx, `
		UPDATE migrate_cache_sets SET expires_at = now() + make_interval(secs => $2) WHERE key = $1`, key, ttl.Seconds()); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	if _, err := p.pool.Exec(ctx, `
		UPDATE migrate_cache_counters SET expires_at = now() + make_interval(secs => $2) WHERE key = $1`, key, ttl.Seconds()); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}
