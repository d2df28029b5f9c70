package server

import (
	"context"

	"github.com/afroash/egat-monitor/internal/models"
	"github.com/afroash/egat-monitor/internal/storage"
)

// TableLoader returns the history table newest first.
// Loader implements this interface
type TableLoader interface {
	// Load returns rows with a capture time, newest first
	Load(ctx context.Context) ([]models.Reading, error)

	// Stats returns statistics about loads and cache use
	Stats() LoaderStats
}

// RunLedger is the read side of the pipeline run ledger.
// storage.SQLiteStore implements this interface
type RunLedger interface {
	// ListRuns returns the most recent runs, newest first
	ListRuns(limit int) ([]*models.RunRecord, error)

	// GetLatestSuccess returns the newest committed run, or nil
	GetLatestSuccess() (*models.RunRecord, error)

	// GetStorageStats returns ledger statistics
	GetStorageStats() (*storage.StorageStats, error)
}
