// Package quality checks whether the history table is fit for analysis.
package quality

import (
	"fmt"
	"math"
	"time"

	"github.com/afroash/egat-monitor/internal/config"
	"github.com/afroash/egat-monitor/internal/models"
)

// Check names.
const (
	CheckRowCount     = "row_count"
	CheckTimeSpan     = "time_span"
	CheckCompleteness = "completeness"
	CheckDuplicates   = "duplicates"
)

// Thresholds are the minimums a table must meet
type Thresholds struct {
	MinRows         int
	MinSpan         time.Duration
	MinCompleteness float64
}

// DefaultThresholds returns 1000 rows, 24h and 90% completeness.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinRows:         1000,
		MinSpan:         24 * time.Hour,
		MinCompleteness: 0.90,
	}
}

// ThresholdsFromConfig maps the quality config section.
func ThresholdsFromConfig(cfg config.QualityConfig) Thresholds {
	return Thresholds{
		MinRows:         cfg.MinRows,
		MinSpan:         cfg.MinSpan,
		MinCompleteness: cfg.MinCompleteness,
	}
}

// Result is the outcome of a single check
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Actual   string `json:"actual"`
	Required string `json:"required"`
}

// Report holds every check result plus the measured values
type Report struct {
	Checks       []Result      `json:"checks"`
	Rows         int           `json:"rows"`
	Span         time.Duration `json:"span"`
	Completeness float64       `json:"completeness"`
	Duplicates   int           `json:"duplicates"`
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Check measures rows against the thresholds.
func Check(rows []models.Reading, th Thresholds) *Report {
	rep := &Report{
		Rows:         len(rows),
		Span:         span(rows),
		Completeness: completeness(rows),
		Duplicates:   duplicates(rows),
	}

	rep.Checks = []Result{
		{
			Name:     CheckRowCount,
			Passed:   rep.Rows >= th.MinRows,
			Actual:   fmt.Sprintf("%d", rep.Rows),
			Required: fmt.Sprintf(">= %d", th.MinRows),
		},
		{
			Name:     CheckTimeSpan,
			Passed:   rep.Span >= th.MinSpan,
			Actual:   rep.Span.String(),
			Required: ">= " + th.MinSpan.String(),
		},
		{
			Name:     CheckCompleteness,
			Passed:   rep.Completeness >= th.MinCompleteness,
			Actual:   fmt.Sprintf("%.2f%%", rep.Completeness*100),
			Required: fmt.Sprintf(">= %.2f%%", th.MinCompleteness*100),
		},
		{
			Name:     CheckDuplicates,
			Passed:   rep.Duplicates == 0,
			Actual:   fmt.Sprintf("%d", rep.Duplicates),
			Required: "0",
		},
	}
	return rep
}

// span is max minus min capture time over rows that have one.
func span(rows []models.Reading) time.Duration {
	var lo, hi time.Time
	for i := range rows {
		ts := rows[i].ScrapedAt
		if ts.IsZero() {
			continue
		}
		if lo.IsZero() || ts.Before(lo) {
			lo = ts
		}
		if hi.IsZero() || ts.After(hi) {
			hi = ts
		}
	}
	return hi.Sub(lo)
}

// completeness is the mean of the per-column non-null fractions, which
// equals the non-null share of all cells.
func completeness(rows []models.Reading) float64 {
	if len(rows) == 0 {
		return 0
	}
	cells := 0
	for i := range rows {
		cells += rows[i].NonNullCount()
	}
	return float64(cells) / float64(len(rows)*models.ColumnCount)
}

type rowKey struct {
	at    int64
	hasAt bool
	date  string
	time  string
	power uint64
	temp  uint64
}

// duplicates counts rows identical in every column to an earlier row.
// Missing values compare equal to each other.
func duplicates(rows []models.Reading) int {
	seen := make(map[rowKey]struct{}, len(rows))
	n := 0
	for i := range rows {
		r := &rows[i]
		k := rowKey{
			date:  r.DateID,
			time:  r.DisplayTime,
			power: floatKey(r.PowerMW),
			temp:  floatKey(r.TemperatureC),
		}
		if !r.ScrapedAt.IsZero() {
			k.at = r.ScrapedAt.UnixNano()
			k.hasAt = true
		}
		if _, ok := seen[k]; ok {
			n++
			continue
		}
		seen[k] = struct{}{}
	}
	return n
}

// floatKey maps every NaN to one key and -0 to 0.
func floatKey(f float64) uint64 {
	if f == 0 {
		return 0
	}
	if math.IsNaN(f) {
		return math.Float64bits(math.NaN())
	}
	return math.Float64bits(f)
}
