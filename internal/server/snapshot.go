package server

import (
	"errors"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/analysis"
	"github.com/afroash/egat-monitor/internal/config"
	"github.com/afroash/egat-monitor/internal/models"
)

// SnapshotOptions controls one snapshot build
type SnapshotOptions struct {
	Contamination    float64
	MaxDisplayPoints int
	RecentRows       int
	ForecastHorizon  int
	ForecastLags     int
}

// OptionsFromSettings maps the dashboard config section.
func OptionsFromSettings(s config.DashboardSettings) SnapshotOptions {
	return SnapshotOptions{
		Contamination:    s.Contamination,
		MaxDisplayPoints: s.MaxDisplayPoints,
		RecentRows:       s.RecentRows,
		ForecastHorizon:  s.ForecastHorizon,
		ForecastLags:     s.ForecastLags,
	}
}

// BuildSnapshot computes the dashboard view from rows sorted newest first.
// Anomalies are detected over the charted window only.
func BuildSnapshot(rows []models.Reading, opts SnapshotOptions, now time.Time, logger zerolog.Logger) *models.Snapshot {
	snap := &models.Snapshot{
		TotalRows:     len(rows),
		Contamination: opts.Contamination,
		RefreshedAt:   now.UTC(),
		Chart:         []models.Reading{},
		Anomalies:     []bool{},
		Recent:        []models.RecentRow{},
	}
	if len(rows) == 0 {
		return snap
	}

	latest := rows[0]
	snap.Latest = &latest

	n := len(rows)
	if opts.MaxDisplayPoints > 0 {
		n = min(n, opts.MaxDisplayPoints)
	}
	chart := slices.Clone(rows[:n])
	slices.Reverse(chart)
	snap.Chart = chart

	values := make([]float64, n)
	for i := range chart {
		values[i] = chart[i].PowerMW
	}
	snap.Anomalies = analysis.DetectAnomalies(values, opts.Contamination, analysis.DefaultSeed)
	snap.LatestAnomaly = snap.Anomalies[n-1]
	snap.Stats = windowStats(values, snap.Anomalies)

	recent := min(opts.RecentRows, n)
	snap.Recent = make([]models.RecentRow, recent)
	for i := 0; i < recent; i++ {
		snap.Recent[i] = models.RecentRow{Reading: rows[i], Anomaly: snap.Anomalies[n-1-i]}
	}

	if opts.ForecastHorizon > 0 {
		preds, err := analysis.Forecast(values, opts.ForecastLags, opts.ForecastHorizon)
		switch {
		case errors.Is(err, analysis.ErrInsufficientHistory):
			logger.Debug().Int("points", n).Msg("Not enough history for a forecast")
		case err != nil:
			logger.Warn().Err(err).Msg("Forecast failed")
		default:
			snap.Forecast = forecastPoints(chart, preds)
		}
	}

	return snap
}

func windowStats(values []float64, anomalies []bool) models.SnapshotStats {
	var stats models.SnapshotStats
	for _, a := range anomalies {
		if a {
			stats.AnomalyCount++
		}
	}
	if len(values) > 0 {
		stats.AnomalyRate = float64(stats.AnomalyCount) / float64(len(values)) * 100
	}

	sum, count := 0.0, 0
	peak := math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
		peak = math.Max(peak, v)
	}
	if count > 0 {
		stats.AvgPowerMW = sum / float64(count)
		stats.PeakPowerMW = peak
	}
	return stats
}

// forecastPoints spaces predictions by the median gap between charted
// captures, starting after the last one.
func forecastPoints(chart []models.Reading, preds []float64) []models.ForecastPoint {
	step := medianStep(chart)
	last := chart[len(chart)-1].ScrapedAt

	points := make([]models.ForecastPoint, len(preds))
	for i, p := range preds {
		points[i] = models.ForecastPoint{
			At:      last.Add(time.Duration(i+1) * step),
			PowerMW: p,
		}
	}
	return points
}

func medianStep(chart []models.Reading) time.Duration {
	gaps := make([]time.Duration, 0, len(chart))
	for i := 1; i < len(chart); i++ {
		if d := chart[i].ScrapedAt.Sub(chart[i-1].ScrapedAt); d > 0 {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) == 0 {
		return time.Minute
	}
	slices.Sort(gaps)
	return gaps[len(gaps)/2]
}
