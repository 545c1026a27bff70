package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nucleus/migrate-core/internal/cache"
	"github.com/nucleus/migrate-core/internal/importer"
	"github.com/nucleus/migrate-core/internal/source"
	"github.com/nucleus/migrate-core/internal/state"
	"github.com/nucleus/migrate-core/internal/substrate"
)

// Registered handler names.
const (
	HandlerImportStage      = "import_stage"
	HandlerImportCollection = "import_collection"
	HandlerAdvanceStage     = "advance_stage"
)

// StageRequest is the payload of stage and collection jobs.
type StageRequest struct {
	ProjectID string      `json:"projectId"`
	Repo      source.Repo `json:"repo"`
	Stage     string      `json:"stage"`
}

// ReportArchiver persists run reports after a stage completes. Archiving
// is best-effort; failures never fail an import.
type ReportArchiver interface {
	ArchiveReport(ctx context.Context, stage string, report *importer.Report) error
}

// Config wires a Pipeline.
type Config struct {
	Queue  substrate.Queue
	Cache  cache.Cache
	States state.Store
	Source source.Client
	Dest   importer.Destination

	// Table defaults to DefaultStageTable.
	Table *StageTable
	// Metrics defaults to importer.NopMetrics.
	Metrics importer.Metrics
	// Archive is optional.
	Archive ReportArchiver

	// CacheTTL scopes the already-imported sets (default: cache.DefaultTTL).
	CacheTTL time.Duration
	// StateTTL is the liveness window refreshed while jobs run
	// (default: state.DefaultExpiry).
	StateTTL time.Duration
}

// Pipeline drives project imports through the stage table on the job
// substrate.
type Pipeline struct {
	cfg     Config
	barrier *Barrier
}

// New validates the configuration and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Queue == nil || cfg.Cache == nil || cfg.States == nil || cfg.Source == nil || cfg.Dest == nil {
		return nil, fmt.Errorf("pipeline: queue, cache, state store, source, and destination are required")
	}
	if cfg.Table == nil {
		cfg.Table = DefaultStageTable()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = importer.NopMetrics{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = state.DefaultExpiry
	}

	p := &Pipeline{cfg: cfg}
	p.barrier = NewBarrier(cfg.Queue, cfg.Cache, cfg.States, cfg.Table)
	p.barrier.stateTTL = cfg.StateTTL
	p.barrier.Dispatch = p.dispatchStage
	return p, nil
}

// Barrier exposes the advance-stage coordinator, mainly for tuning its
// polling in tests.
func (p *Pipeline) Barrier() *Barrier { return p.barrier }

// RegisterHandlers wires the pipeline's job handlers into the registry.
func (p *Pipeline) RegisterHandlers(reg *substrate.Registry) {
	reg.Register(HandlerImportStage, func(ctx context.Context, args json.RawMessage) error {
		var req StageRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return fmt.Errorf("decode stage request: %w", err)
		}
		return p.handleImportStage(ctx, req)
	})
	reg.Register(HandlerImportCollection, func(ctx context.Context, args json.RawMessage) error {
		var req StageRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return fmt.Errorf("decode collection request: %w", err)
		}
		return p.handleImportCollection(ctx, req)
	})
	reg.Register(HandlerAdvanceStage, func(ctx context.Context, args json.RawMessage) error {
		var req AdvanceRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return fmt.Errorf("decode advance request: %w", err)
		}
		return p.barrier.Advance(ctx, req)
	})
}

// Start begins (or restarts) an import for the project, enqueueing the
// first stage. A prior run's state is reset; its already-imported sets
// survive, so re-imports skip persisted records.
func (p *Pipeline) Start(ctx context.Context, projectID string, repo source.Repo) error {
	if _, err := p.cfg.States.Reset(ctx, projectID); err != nil {
		return fmt.Errorf("reset import state: %w", err)
	}

	job, err := substrate.NewJob(HandlerImportStage, StageRequest{
		ProjectID: projectID,
		Repo:      repo,
		Stage:     p.cfg.Table.First(),
	})
	if err != nil {
		return err
	}
	jobID, err := p.cfg.Queue.Enqueue(ctx, job)
	if err != nil {
		return fmt.Errorf("enqueue first stage: %w", err)
	}
	if err := p.cfg.States.SetJobID(ctx, projectID, jobID); err != nil {
		return fmt.Errorf("record stage job: %w", err)
	}
	return nil
}

// =============================================================================
// STAGE JOBS
// =============================================================================

// handleImportStage runs one stage: fan out the stage's work, register a
// waiter for it, and hand off to the barrier. The terminal stage finalizes
// the import instead.
func (p *Pipeline) handleImportStage(ctx context.Context, req StageRequest) error {
	st, err := p.cfg.States.Get(ctx, req.ProjectID)
	if err != nil {
		if isNotFound(err) {
			log.Printf("import %s: state gone before stage %s, aborting", req.ProjectID, req.Stage)
			return nil
		}
		return fmt.Errorf("load import state: %w", err)
	}

	// A fatal failure in an earlier stage stops the run; the finish stage
	// must not overwrite the failed status.
	if st.Status == state.StatusFailed {
		log.Printf("import %s: previously failed, skipping stage %s", req.ProjectID, req.Stage)
		return nil
	}

	if req.Stage == FinishStage {
		return p.finish(ctx, req)
	}

	if st.Status != state.StatusStarted {
		if err := p.cfg.States.SetStatus(ctx, req.ProjectID, state.StatusStarted); err != nil {
			return fmt.Errorf("mark import started: %w", err)
		}
	}
	if err := p.cfg.States.RefreshExpiry(ctx, req.ProjectID, p.cfg.StateTTL); err != nil {
		return fmt.Errorf("refresh import expiry: %w", err)
	}

	job, err := substrate.NewJob(HandlerImportCollection, req)
	if err != nil {
		return err
	}
	jobID, err := p.cfg.Queue.Enqueue(ctx, job)
	if err != nil {
		return fmt.Errorf("enqueue %s collection: %w", req.Stage, err)
	}

	waiterKey := fmt.Sprintf("migrate/%s/stage/%s/waiter/%s", req.ProjectID, req.Stage, uuid.NewString())
	waiter, err := p.barrier.NewWaiter(ctx, waiterKey, []string{jobID})
	if err != nil {
		return err
	}

	advance, err := substrate.NewJob(HandlerAdvanceStage, AdvanceRequest{
		ProjectID: req.ProjectID,
		Repo:      req.Repo,
		Waiters:   []Waiter{waiter},
		NextStage: p.cfg.Table.Next(req.Stage),
	})
	if err != nil {
		return err
	}
	if _, err := p.cfg.Queue.Enqueue(ctx, advance); err != nil {
		return fmt.Errorf("enqueue advance-stage: %w", err)
	}
	return nil
}

// handleImportCollection imports the records of one stage's collection.
func (p *Pipeline) handleImportCollection(ctx context.Context, req StageRequest) error {
	if _, err := p.cfg.States.Get(ctx, req.ProjectID); err != nil {
		if isNotFound(err) {
			log.Printf("import %s: state gone before %s collection, aborting", req.ProjectID, req.Stage)
			return nil
		}
		return fmt.Errorf("load import state: %w", err)
	}

	im, err := importer.New(importer.Config{
		ProjectID: req.ProjectID,
		Repo:      req.Repo,
		Cache:     p.cfg.Cache,
		Source:    p.cfg.Source,
		Dest:      p.cfg.Dest,
		States:    p.cfg.States,
		Metrics:   p.cfg.Metrics,
		CacheTTL:  p.cfg.CacheTTL,
	})
	if err != nil {
		return err
	}

	switch req.Stage {
	case StageWiki:
		im.ImportWiki(ctx)
	case StageIssues:
		if err := im.BootstrapLabels(ctx); err != nil {
			p.failImport(ctx, req.ProjectID, err)
			im.FlushErrors(ctx)
			return err
		}
		im.ImportIssues(ctx)
	case StagePullRequests:
		im.ImportPullRequests(ctx)
	default:
		err := fmt.Errorf("unknown import stage %q", req.Stage)
		p.failImport(ctx, req.ProjectID, err)
		return err
	}

	im.FlushErrors(ctx)
	p.archiveReport(ctx, req.Stage, im.Report())
	return nil
}

// finish completes the import.
func (p *Pipeline) finish(ctx context.Context, req StageRequest) error {
	if err := p.cfg.States.SetStatus(ctx, req.ProjectID, state.StatusFinished); err != nil {
		return fmt.Errorf("mark import finished: %w", err)
	}
	log.Printf("import %s: finished (%s)", req.ProjectID, req.Repo.FullName())
	return nil
}

// dispatchStage is the barrier's callback: enqueue the next stage's job.
func (p *Pipeline) dispatchStage(ctx context.Context, req AdvanceRequest) (string, error) {
	job, err := substrate.NewJob(HandlerImportStage, StageRequest{
		ProjectID: req.ProjectID,
		Repo:      req.Repo,
		Stage:     req.NextStage,
	})
	if err != nil {
		return "", err
	}
	return p.cfg.Queue.Enqueue(ctx, job)
}

func (p *Pipeline) archiveReport(ctx context.Context, stage string, report *importer.Report) {
	if p.cfg.Archive == nil {
		return
	}
	if err := p.cfg.Archive.ArchiveReport(ctx, stage, report); err != nil {
		log.Printf("import %s: archive %s report: %v", report.ProjectID, stage, err)
	}
}

func (p *Pipeline) failImport(ctx context.Context, projectID string, cause error) {
	if err := p.cfg.States.SetLastError(ctx, projectID, cause.Error(), nil); err != nil {
		log.Printf("import %s: record failure: %v", projectID, err)
	}
	if err := p.cfg.States.SetStatus(ctx, projectID, state.StatusFailed); err != nil {
		log.Printf("import %s: mark failed: %v", projectID, err)
	}
}

func isNotFound(err error) bool {
	var nf state.ErrNotFound
	return errors.As(err, &nf)
}
