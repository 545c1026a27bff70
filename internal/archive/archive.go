// Package archive persists import run reports for operator review.
// Archiving is best-effort; the pipeline never fails an import because a
// report could not be stored.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nucleus/migrate-core/internal/importer"
)

// Store persists serialized run reports under a key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Archiver writes one JSON report object per finished stage.
type Archiver struct {
	store  Store
	prefix string
	now    func() time.Time
}

// New creates an Archiver writing under the given key prefix.
func New(store Store, prefix string) *Archiver {
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

// ArchiveReport serializes and stores the stage's run report.
func (a *Archiver) ArchiveReport(ctx context.Context, stage string, report *importer.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	key := a.key(report.ProjectID, stage)
	if err := a.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store report %s: %w", key, err)
	}
	return nil
}

func (a *Archiver) key(projectID, stage string) string {
	name := fmt.Sprintf("%s-%d.json", stage, a.now().UnixNano())
	return strings.Trim(strings.Join([]string{a.prefix, projectID, name}, "/"), "/")
}

// =============================================================================
// LOCAL STORE
// =============================================================================

// Local is a filesystem-backed Store for single-node deployments and tests.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

func (l *Local) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
