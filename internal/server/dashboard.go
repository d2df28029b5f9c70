package server

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/config"
	"github.com/afroash/egat-monitor/internal/models"
)

// Contamination bounds accepted from clients, in percent.
const (
	MinContaminationPct = 1
	MaxContaminationPct = 25
)

// Dashboard builds snapshots from the loaded table
type Dashboard struct {
	loader   TableLoader
	ledger   RunLedger
	settings config.DashboardSettings
	logger   zerolog.Logger
	now      func() time.Time
}

// NewDashboard creates the dashboard service. ledger may be nil.
func NewDashboard(loader TableLoader, ledger RunLedger, settings config.DashboardSettings, logger zerolog.Logger) *Dashboard {
	return &Dashboard{
		loader:   loader,
		ledger:   ledger,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Settings returns the configured dashboard settings
func (d *Dashboard) Settings() config.DashboardSettings {
	return d.settings
}

// Snapshot loads the table and builds a snapshot. A contamination of zero
// uses the configured default.
func (d *Dashboard) Snapshot(ctx context.Context, contamination float64) (*models.Snapshot, error) {
	rows, err := d.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load table: %w", err)
	}

	opts := OptionsFromSettings(d.settings)
	if contamination > 0 {
		opts.Contamination = contamination
	}
	return BuildSnapshot(rows, opts, d.now(), d.logger), nil
}

// History returns up to limit rows, newest first
func (d *Dashboard) History(ctx context.Context, limit int) ([]models.Reading, error) {
	rows, err := d.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load table: %w", err)
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

// ParseContamination converts a percentage query value into a fraction.
// An empty value returns zero.
func ParseContamination(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	pct, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("contamination must be a number: %w", err)
	}
	if pct < MinContaminationPct || pct > MaxContaminationPct {
		return 0, fmt.Errorf("contamination must be between %d and %d percent", MinContaminationPct, MaxContaminationPct)
	}
	return pct / 100, nil
}
