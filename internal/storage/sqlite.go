package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/models"
)

// timeLayout sorts lexicographically, so range queries work on the text column
const timeLayout = "2006-01-02 15:04:05.000"

// Store defines the interface for the pipeline run ledger
type Store interface {
	Close() error
	Migrate() error
	InsertRun(run *models.RunRecord) error
	GetRun(id string) (*models.RunRecord, error)
	ListRuns(limit int) ([]*models.RunRecord, error)
	ListRunsBefore(before time.Time, limit int) ([]*models.RunRecord, error)
	GetLatestSuccess() (*models.RunRecord, error)
	GetDailyStats(start, end time.Time) ([]DailyStat, error)
	DeleteOlderThan(days int) (int64, error)
	GetStorageStats() (*StorageStats, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists pipeline run records
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// DailyStat aggregates the runs started on one day
type DailyStat struct {
	Date        time.Time `json:"date"`
	Runs        int       `json:"runs"`
	Committed   int       `json:"committed"`
	NoData      int       `json:"no_data"`
	Failed      int       `json:"failed"`
	AvgAttempts float64   `json:"avg_attempts"`
	MaxRowCount int       `json:"max_row_count"`
}

// StorageStats contains information about the ledger
type StorageStats struct {
	TotalRuns      int64     `json:"total_runs"`
	CommittedRuns  int64     `json:"committed_runs"`
	OldestRun      time.Time `json:"oldest_run,omitempty"`
	NewestRun      time.Time `json:"newest_run,omitempty"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// SuccessRate returns the committed share of all runs in percent
func (s *StorageStats) SuccessRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.CommittedRuns) / float64(s.TotalRuns) * 100
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// single writer; the dashboard only reads
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("Run ledger initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		commit_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome, started_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// InsertRun stores a finished run. Re-inserting an id replaces the record.
func (s *SQLiteStore) InsertRun(run *models.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run record has no id")
	}

	query := `
		INSERT OR REPLACE INTO runs (id, started_at, finished_at, attempts, outcome, row_count, commit_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		run.ID,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		run.Attempts,
		string(run.Outcome),
		run.RowCount,
		run.CommitID,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

const selectRun = `SELECT id, started_at, finished_at, attempts, outcome, row_count, commit_id, error FROM runs`

// GetRun returns the run with the given id, or nil if unknown
func (s *SQLiteStore) GetRun(id string) (*models.RunRecord, error) {
	row := s.db.QueryRow(selectRun+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first
func (s *SQLiteStore) ListRuns(limit int) ([]*models.RunRecord, error) {
	rows, err := s.db.Query(selectRun+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListRunsBefore returns runs started before a time, newest first (for paging back)
func (s *SQLiteStore) ListRunsBefore(before time.Time, limit int) ([]*models.RunRecord, error) {
	rows, err := s.db.Query(selectRun+` WHERE started_at < ? ORDER BY started_at DESC LIMIT ?`,
		before.UTC().Format(timeLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetLatestSuccess returns the newest committed run, or nil if none
func (s *SQLiteStore) GetLatestSuccess() (*models.RunRecord, error) {
	row := s.db.QueryRow(selectRun+` WHERE outcome = ? ORDER BY started_at DESC LIMIT 1`,
		string(models.RunOutcomeCommitted))
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest success: %w", err)
	}
	return run, nil
}

// GetDailyStats returns per-day run counts for a time range, newest day first
func (s *SQLiteStore) GetDailyStats(start, end time.Time) ([]DailyStat, error) {
	query := `
		SELECT
			substr(started_at, 1, 10) as date,
			COUNT(*) as runs,
			SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END) as committed,
			SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END) as no_data,
			SUM(CASE WHEN outcome IN (?, ?) THEN 1 ELSE 0 END) as failed,
			AVG(attempts) as avg_attempts,
			MAX(row_count) as max_rows
		FROM runs
		WHERE started_at BETWEEN ? AND ?
		GROUP BY date
		ORDER BY date DESC
	`

	rows, err := s.db.Query(query,
		string(models.RunOutcomeCommitted),
		string(models.RunOutcomeNoData),
		string(models.RunOutcomeStoreFailed),
		string(models.RunOutcomeCommitFailed),
		start.UTC().Format(timeLayout),
		end.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		var dateStr string

		err := rows.Scan(
			&dateStr,
			&stat.Runs,
			&stat.Committed,
			&stat.NoData,
			&stat.Failed,
			&stat.AvgAttempts,
			&stat.MaxRowCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}

		stat.Date, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}

		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan removes runs started more than the given number of days ago
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM runs WHERE started_at < ?", cutoff.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old runs")

	return deleted, nil
}

// GetStorageStats returns statistics about the ledger
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&stats.TotalRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	if stats.TotalRuns == 0 {
		return stats, nil
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM runs WHERE outcome = ?", string(models.RunOutcomeCommitted)).
		Scan(&stats.CommittedRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to count committed runs: %w", err)
	}

	var oldestStr, newestStr string
	err = s.db.QueryRow("SELECT MIN(started_at), MAX(started_at) FROM runs").Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}
	stats.OldestRun, _ = parseTimestamp(oldestStr)
	stats.NewestRun, _ = parseTimestamp(newestStr)

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

func scanRun(row interface{ Scan(...interface{}) error }) (*models.RunRecord, error) {
	var r models.RunRecord
	var startedAt, finishedAt, outcome string

	err := row.Scan(&r.ID, &startedAt, &finishedAt, &r.Attempts, &outcome, &r.RowCount, &r.CommitID, &r.Error)
	if err != nil {
		return nil, err
	}
	r.Outcome = models.RunOutcome(outcome)

	if r.StartedAt, err = parseTimestamp(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if r.FinishedAt, err = parseTimestamp(finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}
	return &r, nil
}

func scanRuns(rows *sql.Rows) ([]*models.RunRecord, error) {
	var runs []*models.RunRecord

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// parseTimestamp tries the formats SQLite and older rows may hold
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeLayout,
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
