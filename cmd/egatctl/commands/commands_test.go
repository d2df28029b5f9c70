package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/egat-monitor/internal/lakefs"
	"github.com/afroash/egat-monitor/internal/models"
	"github.com/afroash/egat-monitor/internal/quality"
	tbl "github.com/afroash/egat-monitor/internal/table"
)

type missingObjects struct{}

func (missingObjects) Get(ctx context.Context, path string) ([]byte, error) {
	return nil, lakefs.ErrNotFound
}

func (missingObjects) Put(ctx context.Context, path string, data []byte) error { return nil }

func minutely(n int) []models.Reading {
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]models.Reading, n)
	for i := range rows {
		at := start.Add(time.Duration(i) * time.Minute)
		rows[i] = models.Reading{
			ScrapedAt:    at,
			DateID:       at.Format("20060102"),
			DisplayTime:  at.Format("15:04"),
			PowerMW:      30000,
			TemperatureC: 30,
		}
	}
	return rows
}

func TestReadLocalTable(t *testing.T) {
	data, err := tbl.Encode(minutely(3))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "history.parquet")
	require.NoError(t, os.WriteFile(path, data, 0644))

	rows, err := readLocalTable(path)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = readLocalTable(filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)
}

func TestReadRemoteTable_MissingIsEmpty(t *testing.T) {
	rows, err := readRemoteTable(context.Background(), "x.parquet", func(context.Context) (tbl.Objects, error) {
		return missingObjects{}, nil
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	report := quality.Check(minutely(1500), quality.Thresholds{MinRows: 1000, MinSpan: 48 * time.Hour, MinCompleteness: 0.9})

	err := printReport(&out, report)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQualityFailed))
	assert.Contains(t, out.String(), quality.CheckTimeSpan)
	assert.Contains(t, out.String(), "FAIL")

	out.Reset()
	report = quality.Check(minutely(1500), quality.Thresholds{MinRows: 1000, MinSpan: time.Hour, MinCompleteness: 0.9})
	require.NoError(t, printReport(&out, report))
	assert.Contains(t, out.String(), "All quality checks passed.")
}

func TestPrintRuns(t *testing.T) {
	var out bytes.Buffer
	start := time.Date(2025, 4, 1, 5, 0, 0, 0, time.UTC)
	printRuns(&out, []*models.RunRecord{{
		ID:         "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Attempts:   1,
		Outcome:    models.RunOutcomeCommitted,
		RowCount:   42,
		CommitID:   "abcdef0123456789",
	}})

	s := out.String()
	assert.Contains(t, s, "2025-04-01 05:00:00")
	assert.Contains(t, s, "committed")
	assert.Contains(t, s, "abcdef012345")
	assert.NotContains(t, s, "abcdef0123456789")
}

func TestPrintSnapshot(t *testing.T) {
	var out bytes.Buffer
	at := time.Date(2025, 4, 1, 5, 0, 0, 0, time.UTC)

	printSnapshot(&out, &models.Snapshot{RefreshedAt: at})
	assert.Contains(t, out.String(), "no data")

	out.Reset()
	latest := minutely(1)[0]
	printSnapshot(&out, &models.Snapshot{
		RefreshedAt:   at,
		Latest:        &latest,
		LatestAnomaly: true,
		Forecast:      []models.ForecastPoint{{At: at.Add(time.Minute), PowerMW: 30100}},
	})
	s := out.String()
	assert.Contains(t, s, "ANOMALY")
	assert.Contains(t, s, "30000.0 MW")
	assert.Contains(t, s, "next 30100.0 MW")
}
