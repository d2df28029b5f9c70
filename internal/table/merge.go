// Package table holds the historical readings table: the append-and-dedupe
// merge and the parquet encoding used in the object store.
package table

import (
	"slices"

	"github.com/afroash/egat-monitor/internal/models"
)

// Merge appends incoming readings to the existing table and returns a new
// table sorted ascending by capture time, with at most one row per
// (date id, display time) key.
//
// On a key conflict the row sorting first wins; among equal timestamps the
// existing row wins. Rows without a timestamp sort last. Merge is idempotent:
// merging the same reading again returns an identical table. Neither input
// slice is modified.
func Merge(existing, incoming []models.Reading) []models.Reading {
	combined := make([]models.Reading, 0, len(existing)+len(incoming))
	combined = append(combined, existing...)
	combined = append(combined, incoming...)

	SortAscending(combined)

	seen := make(map[models.Key]struct{}, len(combined))
	merged := combined[:0]
	for _, r := range combined {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, r)
	}
	return merged
}

// SortAscending stable-sorts rows by capture time, missing timestamps last.
func SortAscending(rows []models.Reading) {
	slices.SortStableFunc(rows, compareScrapedAt)
}

// SortDescending stable-sorts rows newest first, missing timestamps last.
func SortDescending(rows []models.Reading) {
	slices.SortStableFunc(rows, func(a, b models.Reading) int {
		switch {
		case a.ScrapedAt.IsZero() && b.ScrapedAt.IsZero():
			return 0
		case a.ScrapedAt.IsZero():
			return 1
		case b.ScrapedAt.IsZero():
			return -1
		}
		return b.ScrapedAt.Compare(a.ScrapedAt)
	})
}

func compareScrapedAt(a, b models.Reading) int {
	switch {
	case a.ScrapedAt.IsZero() && b.ScrapedAt.IsZero():
		return 0
	case a.ScrapedAt.IsZero():
		return 1
	case b.ScrapedAt.IsZero():
		return -1
	}
	return a.ScrapedAt.Compare(b.ScrapedAt)
}

// Contains reports whether a row with the given key is present.
func Contains(rows []models.Reading, key models.Key) bool {
	for i := range rows {
		if rows[i].Key() == key {
			return true
		}
	}
	return false
}
