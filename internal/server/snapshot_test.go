package server

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/egat-monitor/internal/models"
)

func defaultOptions() SnapshotOptions {
	return SnapshotOptions{
		Contamination:    0.1,
		MaxDisplayPoints: 100,
		RecentRows:       10,
		ForecastHorizon:  6,
		ForecastLags:     3,
	}
}

func newestFirst(rows []models.Reading) []models.Reading {
	out := slices.Clone(rows)
	slices.Reverse(out)
	return out
}

func TestBuildSnapshot_Empty(t *testing.T) {
	now := baseTime.Add(time.Hour)
	snap := BuildSnapshot(nil, defaultOptions(), now, zerolog.Nop())

	assert.Nil(t, snap.Latest)
	assert.Empty(t, snap.Chart)
	assert.Empty(t, snap.Recent)
	assert.Empty(t, snap.Forecast)
	assert.Equal(t, 0, snap.TotalRows)
	assert.Equal(t, now, snap.RefreshedAt)
}

func TestBuildSnapshot_ChartWindowAscending(t *testing.T) {
	rows := newestFirst(series(150, func(i int) float64 { return 30000 + float64(i%7) }))
	snap := BuildSnapshot(rows, defaultOptions(), baseTime, zerolog.Nop())

	require.Len(t, snap.Chart, 100)
	require.Len(t, snap.Anomalies, 100)
	assert.Equal(t, 150, snap.TotalRows)
	assert.True(t, snap.Chart[0].ScrapedAt.Before(snap.Chart[99].ScrapedAt))
	assert.Equal(t, rows[0].ScrapedAt, snap.Chart[99].ScrapedAt)
	assert.Equal(t, rows[0].ScrapedAt, snap.Latest.ScrapedAt)
}

func TestBuildSnapshot_FlagsSpike(t *testing.T) {
	asc := series(60, func(i int) float64 { return 30000 + float64(i%5) })
	asc[59].PowerMW = 45000
	snap := BuildSnapshot(newestFirst(asc), defaultOptions(), baseTime, zerolog.Nop())

	assert.True(t, snap.LatestAnomaly)
	assert.True(t, snap.Anomalies[59])
	require.NotEmpty(t, snap.Recent)
	assert.True(t, snap.Recent[0].Anomaly)
	assert.Equal(t, 45000.0, snap.Stats.PeakPowerMW)
	assert.Equal(t, 6, snap.Stats.AnomalyCount)
	assert.InDelta(t, 10.0, snap.Stats.AnomalyRate, 1e-9)
}

func TestBuildSnapshot_RecentRowsMatchFlags(t *testing.T) {
	rows := newestFirst(series(30, func(i int) float64 { return float64(i * i) }))
	snap := BuildSnapshot(rows, defaultOptions(), baseTime, zerolog.Nop())

	require.Len(t, snap.Recent, 10)
	for i, r := range snap.Recent {
		assert.Equal(t, rows[i].ScrapedAt, r.Reading.ScrapedAt)
		assert.Equal(t, snap.Anomalies[len(snap.Chart)-1-i], r.Anomaly)
	}
}

func TestBuildSnapshot_Stats(t *testing.T) {
	rows := newestFirst(series(4, func(i int) float64 { return float64(10 * (i + 1)) }))
	rows[1].PowerMW = math.NaN()
	opts := defaultOptions()
	opts.ForecastHorizon = 0

	snap := BuildSnapshot(rows, opts, baseTime, zerolog.Nop())
	// values 10, 20, NaN(30), 40
	assert.InDelta(t, 70.0/3, snap.Stats.AvgPowerMW, 1e-9)
	assert.Equal(t, 40.0, snap.Stats.PeakPowerMW)
	assert.Empty(t, snap.Forecast)
}

func TestBuildSnapshot_ForecastSpacing(t *testing.T) {
	rows := newestFirst(series(40, func(i int) float64 { return 30000 + 10*float64(i) }))
	snap := BuildSnapshot(rows, defaultOptions(), baseTime, zerolog.Nop())

	require.Len(t, snap.Forecast, 6)
	last := rows[0].ScrapedAt
	for i, p := range snap.Forecast {
		assert.Equal(t, last.Add(time.Duration(i+1)*time.Minute), p.At)
	}
	assert.InDelta(t, 30400, snap.Forecast[0].PowerMW, 5)
}

func TestBuildSnapshot_ShortHistoryNoForecast(t *testing.T) {
	rows := newestFirst(series(4, func(i int) float64 { return float64(i) }))
	snap := BuildSnapshot(rows, defaultOptions(), baseTime, zerolog.Nop())

	assert.Empty(t, snap.Forecast)
	assert.Len(t, snap.Chart, 4)
	assert.Len(t, snap.Recent, 4)
}

func TestBuildSnapshot_UnlimitedDisplay(t *testing.T) {
	opts := defaultOptions()
	opts.MaxDisplayPoints = 0
	rows := newestFirst(series(120, func(i int) float64 { return float64(i % 3) }))

	snap := BuildSnapshot(rows, opts, baseTime, zerolog.Nop())
	assert.Len(t, snap.Chart, 120)
}

func TestMedianStep(t *testing.T) {
	chart := series(5, func(i int) float64 { return 1 })
	chart[4].ScrapedAt = chart[3].ScrapedAt.Add(10 * time.Minute)
	assert.Equal(t, time.Minute, medianStep(chart))

	assert.Equal(t, time.Minute, medianStep(chart[:1]))
}
