package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/config"
	"github.com/afroash/egat-monitor/internal/lakefs"
	"github.com/afroash/egat-monitor/internal/server"
	"github.com/afroash/egat-monitor/internal/storage"
)

const version = "v0.3.0"

func main() {
	// Parse flags
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := cfg.Logging.NewLogger("server")

	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Dur("refresh", cfg.Dashboard.RefreshInterval).
		Msg("Starting EGAT Dashboard Server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s3Client, err := lakefs.NewS3Client(ctx, cfg.LakeFS)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create lakeFS S3 client")
	}
	objects := lakefs.NewObjectStore(s3Client, cfg.LakeFS, logger)
	loader := server.NewLoader(objects, cfg.LakeFS.Path, cfg.Dashboard.RefreshInterval, logger)

	// ledger stays a nil interface when the database is off
	var ledger server.RunLedger
	var sqliteStore *storage.SQLiteStore
	if cfg.Database.Enabled {
		sqliteStore, err = openLedger(cfg.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open run ledger")
		}
		ledger = sqliteStore
	}

	dashboard := server.NewDashboard(loader, ledger, cfg.Dashboard, logger)
	apiHandler := server.NewAPIHandler(dashboard, version, logger)
	hub := server.NewHub(dashboard, logger, cfg.Server.AllowedOrigins...)

	mux := http.NewServeMux()
	mux.Handle("/", server.NewPageHandler(dashboard, version, logger))
	apiHandler.Register(mux)
	mux.Handle("/ws", hub)

	go hub.Run(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down server...")

	// stops the broadcaster and closes viewer queues
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	if sqliteStore != nil {
		sqliteStore.Close()
		logger.Info().Msg("Run ledger closed")
	}

	stats := hub.Stats()
	logger.Info().Int64("broadcasts", stats.Broadcasts).Int64("dropped", stats.Dropped).Msg("Server stopped")
}

// openLedger creates the database directory and opens the run ledger
func openLedger(cfg config.DatabaseConfig, logger zerolog.Logger) (*storage.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return storage.NewSQLiteStore(cfg.Path, logger)
}
