// Package main is the entry point for the migrate Temporal worker. It
// registers the import job workflow and dispatch activity, wires the
// pipeline's stage handlers, and runs until interrupted.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/nucleus/migrate-core/internal/archive"
	"github.com/nucleus/migrate-core/internal/cache"
	"github.com/nucleus/migrate-core/internal/config"
	"github.com/nucleus/migrate-core/internal/dest"
	"github.com/nucleus/migrate-core/internal/pipeline"
	"github.com/nucleus/migrate-core/internal/source/gitea"
	"github.com/nucleus/migrate-core/internal/state"
	"github.com/nucleus/migrate-core/internal/substrate"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.SourceBaseURL == "" {
		log.Fatal("MIGRATE_SOURCE_URL is required")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	cacheStore, err := buildCache(ctx, cfg, pool)
	if err != nil {
		log.Fatalf("build cache: %v", err)
	}

	states, err := state.NewPostgres(ctx, pool)
	if err != nil {
		log.Fatalf("build state store: %v", err)
	}

	destination, err := dest.NewPostgres(ctx, pool)
	if err != nil {
		log.Fatalf("build destination: %v", err)
	}

	src := gitea.New(gitea.Config{
		BaseURL:   cfg.SourceBaseURL,
		Token:     cfg.SourceToken,
		PerPage:   cfg.SourcePerPage,
		RateLimit: cfg.SourceRateLimit,
	})

	archiver, err := buildArchiver(ctx, cfg)
	if err != nil {
		log.Fatalf("build archive: %v", err)
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("create Temporal client: %v", err)
	}
	defer c.Close()

	queue := substrate.NewTemporal(c, cfg.TemporalTaskQueue)

	p, err := pipeline.New(pipeline.Config{
		Queue:    queue,
		Cache:    cacheStore,
		States:   states,
		Source:   src,
		Dest:     destination,
		Archive:  archiver,
		CacheTTL: cfg.CacheTTL(),
		StateTTL: cfg.StateTTL(),
	})
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	registry := substrate.NewRegistry()
	p.RegisterHandlers(registry)

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(substrate.JobWorkflow, workflow.RegisterOptions{
		Name: substrate.JobWorkflowName,
	})
	w.RegisterActivityWithOptions(substrate.NewActivities(registry).RunJob, activity.RegisterOptions{
		Name: substrate.RunJobActivityName,
	})

	log.Printf("migrate worker started on task queue %s (cache backend: %s)",
		cfg.TemporalTaskQueue, cfg.CacheBackend)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker stopped: %v", err)
	}
}

func buildCache(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case config.CachePostgres:
		return cache.NewPostgres(ctx, pool, cfg.CacheTTL())
	case config.CacheSQLite:
		return cache.NewSQLite(cfg.SQLitePath, cfg.CacheTTL())
	default:
		return cache.NewMemory(cfg.CacheTTL()), nil
	}
}

func buildArchiver(ctx context.Context, cfg *config.Config) (pipeline.ReportArchiver, error) {
	switch cfg.ArchiveBackend {
	case config.ArchiveLocal:
		return archive.New(archive.NewLocal(cfg.ArchiveDir), cfg.ArchivePrefix), nil
	case config.ArchiveS3:
		store, err := archive.NewS3(ctx, cfg.ArchiveS3)
		if err != nil {
			return nil, err
		}
		return archive.New(store, cfg.ArchivePrefix), nil
	default:
		return nil, nil
	}
}
