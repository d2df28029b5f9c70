package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/lakefs"
	"github.com/afroash/egat-monitor/internal/models"
	"github.com/afroash/egat-monitor/internal/table"
)

// Loader reads the history table from the object store and keeps it for
// one refresh interval
type Loader struct {
	objects table.Objects
	path    string
	cache   *expirable.LRU[string, []models.Reading]
	logger  zerolog.Logger

	mu         sync.RWMutex
	loads      int64
	cacheHits  int64
	errors     int64
	lastLoad   time.Time
	lastRows   int
	lastErrMsg string
}

// LoaderStats contains statistics about the loader
type LoaderStats struct {
	Loads     int64     `json:"loads"`
	CacheHits int64     `json:"cache_hits"`
	Errors    int64     `json:"errors"`
	LastLoad  time.Time `json:"last_load,omitempty"`
	Rows      int       `json:"rows"`
	LastError string    `json:"last_error,omitempty"`
}

// NewLoader creates a loader whose cached table expires after ttl
func NewLoader(objects table.Objects, path string, ttl time.Duration, logger zerolog.Logger) *Loader {
	return &Loader{
		objects: objects,
		path:    path,
		cache:   expirable.NewLRU[string, []models.Reading](1, nil, ttl),
		logger:  logger,
	}
}

// Load returns the table newest first, dropping rows without a capture
// time. A table that does not exist yet loads as empty. Callers must not
// modify the returned slice.
func (l *Loader) Load(ctx context.Context) ([]models.Reading, error) {
	if rows, ok := l.cache.Get(l.path); ok {
		l.mu.Lock()
		l.cacheHits++
		l.mu.Unlock()
		return rows, nil
	}

	rows, err := table.Load(ctx, l.objects, l.path)
	if err != nil && !errors.Is(err, lakefs.ErrNotFound) {
		l.mu.Lock()
		l.errors++
		l.lastErrMsg = err.Error()
		l.mu.Unlock()
		l.logger.Error().Err(err).Str("path", l.path).Msg("Failed to load table")
		return nil, err
	}

	kept := make([]models.Reading, 0, len(rows))
	for _, r := range rows {
		if !r.ScrapedAt.IsZero() {
			kept = append(kept, r)
		}
	}
	table.SortDescending(kept)
	l.cache.Add(l.path, kept)

	l.mu.Lock()
	l.loads++
	l.lastLoad = time.Now()
	l.lastRows = len(kept)
	l.lastErrMsg = ""
	l.mu.Unlock()

	l.logger.Debug().Int("rows", len(kept)).Int("dropped", len(rows)-len(kept)).Msg("Table loaded")
	return kept, nil
}

// Invalidate forces the next Load to read from the store
func (l *Loader) Invalidate() {
	l.cache.Purge()
}

// Stats returns statistics about the loader
func (l *Loader) Stats() LoaderStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LoaderStats{
		Loads:     l.loads,
		CacheHits: l.cacheHits,
		Errors:    l.errors,
		LastLoad:  l.lastLoad,
		Rows:      l.lastRows,
		LastError: l.lastErrMsg,
	}
}
