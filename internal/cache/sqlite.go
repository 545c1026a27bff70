package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Cache backed by a local SQLite file, for single-process runs
// where no shared Postgres is available.
type SQLite struct {
	conn *sql.DB
	ttl  time.Duration
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_sets (
    key        TEXT    NOT NULL,
    member     TEXT    NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (key, member)
);
CREATE TABLE IF NOT EXISTS cache_counters (
    key        TEXT    PRIMARY KEY,
    value      INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);
`

// NewSQLite opens (creating if needed) a SQLite-backed cache at dbPath.
func NewSQLite(dbPath string, ttl time.Duration) (*SQLite, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure cache schema: %w", err)
	}
	return &SQLite{conn: conn, ttl: ttl}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.conn.Close() }

func (s *SQLite) expiry() int64 { return time.Now().Add(s.ttl).Unix() }

func (s *SQLite) SetAdd(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO cache_sets (key, member, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key, member) DO NOTHING`,
		key, value, s.expiry())
	if err != nil {
		return fmt.Errorf("set add %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) SetIncludes(ctx context.Context, key, value string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `
		SELECT 1 FROM cache_sets
		WHERE key = ? AND member = ? AND expires_at > ?`,
		key, value, time.Now().Unix()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set includes %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) CounterGet(ctx context.Context, key string) (int, bool, error) {
	var value int
	err := s.conn.QueryRowContext(ctx, `
		SELECT value FROM cache_counters
		WHERE key = ? AND expires_at > ?`,
		key, time.Now().Unix()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("counter get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) CounterSet(ctx context.Context, key string, value int) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO cache_counters (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiry())
	if err != nil {
		return fmt.Errorf("counter set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM cache_sets WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM cache_counters WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Expire(ctx context.Context, key string, ttl time.Duration) error {
	expires := time.Now().Add(ttl).Unix()
	if _, err := s.conn.ExecContext(ctx, `
		UPDATE cache_sets SET expires_at = ? WHERE key = ?`, expires, key); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	if _, err := s.conn.ExecContext(ctx, `
		UPDATE cache_counters SET expires_at = ? WHERE key = ?`, expires, key); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}
