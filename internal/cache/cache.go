// Package cache provides the shared idempotency store used by import jobs.
//
// The cache records which source records have already been imported per
// (project, collection) pair and tracks the remaining-job counters behind
// stage waiters. All operations are atomic at the single-key level; no
// cross-key transactions are offered or needed.
package cache

import (
	"context"
	"time"
)

// DefaultTTL bounds how long idempotency keys survive, so a retried import
// of the same project eventually starts from a clean slate.
const DefaultTTL = 24 * time.Hour

// Cache is the idempotency store collaborator.
type Cache interface {
	// SetAdd adds value to the set stored at key, creating it if absent.
	SetAdd(ctx context.Context, key, value string) error

	// SetIncludes reports whether value is a member of the set at key.
	SetIncludes(ctx context.Context, key, value string) (bool, error)

	// CounterGet returns the counter at key. The second return reports
	// whether the key exists at all; a missing key reads as (0, false).
	CounterGet(ctx context.Context, key string) (int, bool, error)

	// CounterSet overwrites the counter at key.
	CounterSet(ctx context.Context, key string, value int) error

	// Delete removes key regardless of its type.
	Delete(ctx context.Context, key string) error

	// Expire resets the TTL of key. Missing keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
