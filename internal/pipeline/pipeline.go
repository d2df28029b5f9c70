// Package pipeline runs one scrape, merge, store and commit cycle and
// records how it ended.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/config"
	"github.com/afroash/egat-monitor/internal/lakefs"
	"github.com/afroash/egat-monitor/internal/models"
	"github.com/afroash/egat-monitor/internal/scraper"
	"github.com/afroash/egat-monitor/internal/table"
)

// CommitSource is recorded in every commit's metadata. Existing commit
// filters match on this value.
const CommitSource = "prefect_pipeline"

// Committer commits staged table changes.
type Committer interface {
	Commit(ctx context.Context, message string, metadata map[string]string) (*lakefs.Commit, error)
}

// Recorder persists finished runs. A nil Recorder disables the ledger.
type Recorder interface {
	InsertRun(run *models.RunRecord) error
}

// Result is the outcome of one run.
type Result struct {
	Run     models.RunRecord
	Reading *models.Reading
	Commit  *lakefs.Commit
}

// Succeeded reports whether a new table version was committed.
func (r *Result) Succeeded() bool {
	return r.Run.Outcome.Succeeded()
}

// Pipeline scrapes the latest reading and appends it to the versioned table
type Pipeline struct {
	source      scraper.Source
	objects     table.Objects
	committer   Committer
	recorder    Recorder
	path        string
	maxAttempts int
	retryDelay  time.Duration
	logger      zerolog.Logger

	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pipeline. recorder may be nil.
func New(source scraper.Source, objects table.Objects, committer Committer, recorder Recorder,
	cfg *config.Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		source:      source,
		objects:     objects,
		committer:   committer,
		recorder:    recorder,
		path:        cfg.LakeFS.Path,
		maxAttempts: cfg.Pipeline.MaxAttempts,
		retryDelay:  cfg.Pipeline.RetryDelay,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		sleep:       sleepContext,
	}
}

// Run executes one cycle. It never panics on external failures; the
// outcome field of the result says how far the run got.
func (p *Pipeline) Run(ctx context.Context) *Result {
	res := &Result{Run: models.RunRecord{ID: p.newID(), StartedAt: p.now()}}
	logger := p.logger.With().Str("run_id", res.Run.ID).Logger()

	defer func() {
		res.Run.FinishedAt = p.now()
		p.record(logger, &res.Run)
	}()

	reading, attempts, err := p.scrape(ctx, logger)
	res.Run.Attempts = attempts
	if err != nil {
		res.Run.Error = err.Error()
		if isCancel(err) {
			res.Run.Outcome = models.RunOutcomeCancelled
		} else {
			res.Run.Outcome = models.RunOutcomeNoData
		}
		logger.Warn().Err(err).Int("attempts", attempts).Msg("No reading obtained, table not updated")
		return res
	}
	res.Reading = reading

	rowCount, err := p.Store(ctx, reading)
	if err != nil {
		res.Run.Error = err.Error()
		res.Run.Outcome = outcomeFor(err, models.RunOutcomeStoreFailed)
		logger.Error().Err(err).Msg("Failed to store table")
		return res
	}
	res.Run.RowCount = rowCount

	commit, err := p.commit(ctx, reading.ScrapedAt)
	if err != nil {
		res.Run.Error = err.Error()
		res.Run.Outcome = outcomeFor(err, models.RunOutcomeCommitFailed)
		logger.Error().Err(err).Msg("Failed to commit table")
		return res
	}
	res.Commit = commit
	res.Run.CommitID = commit.ID
	res.Run.Outcome = models.RunOutcomeCommitted

	logger.Info().
		Str("commit_id", commit.ID).
		Int("rows", rowCount).
		Str("reading", reading.String()).
		Msg("Pipeline run committed")
	return res
}

// scrape tries the source up to maxAttempts times, waiting retryDelay
// between attempts. It returns the number of attempts made.
func (p *Pipeline) scrape(ctx context.Context, logger zerolog.Logger) (*models.Reading, int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, p.retryDelay); err != nil {
				return nil, attempt - 1, err
			}
		}

		reading, err := p.source.Scrape(ctx)
		if err == nil && reading == nil {
			err = scraper.ErrNoReading
		}
		if err == nil && !reading.IsValid() {
			err = fmt.Errorf("implausible reading %s", reading.String())
		}
		if err == nil {
			logger.Info().Int("attempt", attempt).Str("reading", reading.String()).Msg("Scraped reading")
			return reading, attempt, nil
		}

		if isCancel(err) {
			return nil, attempt, err
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", p.maxAttempts).Msg("Scrape attempt failed")
	}
	return nil, p.maxAttempts, fmt.Errorf("no reading after %d attempts: %w", p.maxAttempts, lastErr)
}

// Store merges the reading into the stored table and uploads the result.
// An unreadable or missing table counts as empty history. It returns the
// row count of the uploaded table.
func (p *Pipeline) Store(ctx context.Context, reading *models.Reading) (int, error) {
	existing, err := table.Load(ctx, p.objects, p.path)
	if err != nil {
		if isCancel(err) {
			return 0, err
		}
		if errors.Is(err, lakefs.ErrNotFound) {
			p.logger.Info().Str("path", p.path).Msg("No existing table, starting new history")
		} else {
			p.logger.Warn().Err(err).Str("path", p.path).Msg("Could not read existing table, starting new history")
		}
		existing = nil
	}

	merged := table.Merge(existing, []models.Reading{*reading})
	if len(merged) == len(existing) {
		p.logger.Info().Str("key", reading.Key().String()).Msg("Reading already in table")
	}

	if err := table.Save(ctx, p.objects, p.path, merged); err != nil {
		return 0, fmt.Errorf("failed to save table: %w", err)
	}

	p.logger.Debug().Int("previous_rows", len(existing)).Int("rows", len(merged)).Msg("Table uploaded")
	return len(merged), nil
}

func (p *Pipeline) commit(ctx context.Context, scrapedAt time.Time) (*lakefs.Commit, error) {
	ts := scrapedAt.UTC().Format(time.RFC3339)
	return p.committer.Commit(ctx, CommitMessage(scrapedAt), map[string]string{
		"source":    CommitSource,
		"timestamp": ts,
	})
}

// CommitMessage is the message used for automatic commits.
func CommitMessage(at time.Time) string {
	return "Automatic commit of EGAT data at " + at.UTC().Format(time.RFC3339)
}

func (p *Pipeline) record(logger zerolog.Logger, run *models.RunRecord) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.InsertRun(run); err != nil {
		logger.Error().Err(err).Msg("Failed to record run")
	}
}

func outcomeFor(err error, otherwise models.RunOutcome) models.RunOutcome {
	if isCancel(err) {
		return models.RunOutcomeCancelled
	}
	return otherwise
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
