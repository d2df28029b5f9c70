package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/afroash/egat-monitor/internal/config"
	"github.com/afroash/egat-monitor/internal/lakefs"
	"github.com/afroash/egat-monitor/internal/pipeline"
	"github.com/afroash/egat-monitor/internal/scraper"
	"github.com/afroash/egat-monitor/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/pipeline.yaml", "path to config file")
	every := flag.Duration("every", 0, "re-run on this interval (overrides pipeline.interval); zero runs once")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *every > 0 {
		cfg.Pipeline.Interval = *every
	}

	logger := cfg.Logging.NewLogger("pipeline")
	logger.Info().
		Str("version", version).
		Str("source", cfg.Source.URL).
		Str("repository", cfg.LakeFS.Repository).
		Str("branch", cfg.LakeFS.Branch).
		Str("path", cfg.LakeFS.Path).
		Msg("Starting EGAT pipeline")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := scraper.NewPageScraper(cfg.Source, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create scraper")
	}

	s3Client, err := lakefs.NewS3Client(ctx, cfg.LakeFS)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create lakeFS S3 client")
	}
	objects := lakefs.NewObjectStore(s3Client, cfg.LakeFS, logger)
	committer := lakefs.NewCommitClient(cfg.LakeFS, logger)

	// recorder stays a nil interface when the ledger is off
	var recorder pipeline.Recorder
	var sqliteStore *storage.SQLiteStore
	var retentionCleaner *storage.RetentionCleaner
	if cfg.Database.Enabled {
		dataDir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create data directory")
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open run ledger")
		}
		recorder = sqliteStore
		retentionCleaner = storage.NewRetentionCleaner(sqliteStore, cfg.Database, logger)
	}

	p := pipeline.New(source, objects, committer, recorder, cfg, logger)

	exitCode := 0
	if cfg.Pipeline.Interval > 0 {
		scheduler := pipeline.NewScheduler(p, cfg.Pipeline.Interval, logger)
		logger.Info().Dur("interval", cfg.Pipeline.Interval).Msg("Scheduler started")
		if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Scheduler stopped with error")
			exitCode = 1
		}
		stats := scheduler.Stats()
		logger.Info().Int64("runs", stats.Runs).Interface("outcomes", stats.Outcomes).Msg("Scheduler summary")
	} else {
		start := time.Now()
		res := p.Run(ctx)
		logger.Info().
			Str("outcome", string(res.Run.Outcome)).
			Int("attempts", res.Run.Attempts).
			Dur("elapsed", time.Since(start)).
			Msg("Pipeline finished")
		if !res.Succeeded() {
			exitCode = 1
		}
	}

	if retentionCleaner != nil {
		retentionCleaner.Stop()
	}
	if sqliteStore != nil {
		sqliteStore.Close()
		logger.Info().Msg("Run ledger closed")
	}

	logger.Info().Int64("page_fetches", source.Fetches()).Str("breaker", committer.State().String()).Msg("Pipeline stopped")
	stop()
	os.Exit(exitCode)
}
