// Package importer copies a project's collections (wiki, issues, pull
// requests, comments) from a source host into the destination system.
//
// Each collection is imported record by record: a failing record is
// captured and skipped, never aborting the rest of the collection. Records
// already present in the idempotency cache are skipped, so redelivered
// import jobs stay safe.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/nucleus/migrate-core/internal/cache"
	"github.com/nucleus/migrate-core/internal/source"
	"github.com/nucleus/migrate-core/internal/state"
)

// Collection names used for idempotency keys, stats, and error types.
const (
	CollectionWiki         = "wiki"
	CollectionIssues       = "issues"
	CollectionPullRequests = "pull_requests"
)

// DiffPosition anchors an inline comment to a location in a diff.
type DiffPosition struct {
	FilePath string `json:"filePath"`
	OldLine  *int   `json:"oldLine,omitempty"`
	NewLine  *int   `json:"newLine,omitempty"`
	BaseSHA  string `json:"baseSha,omitempty"`
	HeadSHA  string `json:"headSha,omitempty"`
}

// Label is a destination label created during bootstrap.
type Label struct {
	Name  string
	Color string
}

// Destination is the write-side collaborator persisting imported records.
// Persistence and schema are outside this package; implementations return
// opaque local identifiers where later records need to reference them.
type Destination interface {
	CreateWikiPage(ctx context.Context, projectID string, page source.WikiPage) error
	CreateLabel(ctx context.Context, projectID string, label Label) error
	CreateIssue(ctx context.Context, projectID string, issue source.Issue) (string, error)
	CreateIssueComment(ctx context.Context, projectID, issueID string, comment source.Comment) error
	CreateMergeRequest(ctx context.Context, projectID string, pr source.PullRequest) (string, error)
	CreateMergeRequestComment(ctx context.Context, projectID, mergeRequestID string, comment source.Comment) error
	CreateDiscussion(ctx context.Context, projectID, mergeRequestID string, comment source.Comment, position *DiffPosition) (string, error)
	AddDiscussionReply(ctx context.Context, discussionID string, comment source.Comment) error
}

// Metrics receives import progress signals. Emission is a collaborator
// concern; NopMetrics is used when none is wired.
type Metrics interface {
	RecordImported(collection string)
	ImportFinished(projectID string)
}

// NopMetrics discards all signals.
type NopMetrics struct{}

func (NopMetrics) RecordImported(string) {}
func (NopMetrics) ImportFinished(string) {}

// Config wires an Importer. Every dependency is injected; nothing is
// resolved ambiently.
type Config struct {
	ProjectID string
	Repo      source.Repo
	Cache     cache.Cache
	Source    source.Client
	Dest      Destination
	States    state.Store
	Metrics   Metrics
	// CacheTTL scopes the already-imported sets (default: cache.DefaultTTL).
	CacheTTL time.Duration
}

// Importer imports one project's collections.
type Importer struct {
	cfg    Config
	errors *ErrorList
	stats  *Stats
}

// New validates the configuration and builds an Importer.
func New(cfg Config) (*Importer, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("importer: project ID is required")
	}
	if cfg.Cache == nil || cfg.Source == nil || cfg.Dest == nil || cfg.States == nil {
		return nil, fmt.Errorf("importer: cache, source, destination, and state store are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	return &Importer{
		cfg:    cfg,
		errors: NewErrorList(),
		stats:  NewStats(),
	}, nil
}

// Errors exposes the error list accumulated so far.
func (im *Importer) Errors() *ErrorList { return im.errors }

// Stats exposes the per-collection counters accumulated so far.
func (im *Importer) Stats() *Stats { return im.stats }

// Execute runs the full import: wiki, then labels and issues, then pull
// requests. Individual failures are captured; only label bootstrap is
// fatal. The consolidated error summary is written to the import state
// once, at the end.
func (im *Importer) Execute(ctx context.Context) error {
	defer im.cfg.Metrics.ImportFinished(im.cfg.ProjectID)

	im.ImportWiki(ctx)

	if err := im.BootstrapLabels(ctx); err != nil {
		im.flushErrors(ctx)
		return err
	}

	im.ImportIssues(ctx)
	im.ImportPullRequests(ctx)

	im.flushErrors(ctx)
	return nil
}

// FlushErrors writes the consolidated error summary to the import state.
// Call after stage-scoped imports; Execute does it itself.
func (im *Importer) FlushErrors(ctx context.Context) {
	im.flushErrors(ctx)
}

func (im *Importer) flushErrors(ctx context.Context) {
	if im.errors.Empty() {
		return
	}
	message := im.errors.Summary()
	details, err := im.errors.Details()
	if err != nil {
		details = nil
	}
	// Flushed once per run, not per record.
	if err := im.cfg.States.SetLastError(ctx, im.cfg.ProjectID, message, details); err != nil {
		im.errors.logf("persist error summary for %s: %v", im.cfg.ProjectID, err)
	}
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func (im *Importer) importedSetKey(collection string) string {
	return fmt.Sprintf("migrate/%s/already-imported/%s", im.cfg.ProjectID, collection)
}

// alreadyImported reports whether the record was persisted by an earlier
// run or a redelivered job.
func (im *Importer) alreadyImported(ctx context.Context, collection, recordID string) (bool, error) {
	return im.cfg.Cache.SetIncludes(ctx, im.importedSetKey(collection), recordID)
}

// markImported records a successful insert. Only called after the insert
// succeeds, so failed records are retried on the next run.
func (im *Importer) markImported(ctx context.Context, collection, recordID string) error {
	key := im.importedSetKey(collection)
	if err := im.cfg.Cache.SetAdd(ctx, key, recordID); err != nil {
		return err
	}
	return im.cfg.Cache.Expire(ctx, key, im.cfg.CacheTTL)
}

// recordImported bumps counters for one persisted record.
func (im *Importer) recordImported(collection string) {
	im.stats.Collection(collection).Imported++
	im.cfg.Metrics.RecordImported(collection)
}
