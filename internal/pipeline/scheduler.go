package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/models"
)

// Runner is anything that performs one pipeline cycle.
type Runner interface {
	Run(ctx context.Context) *Result
}

// Scheduler runs the pipeline immediately and then on every interval tick
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.RWMutex
	runs     int64
	outcomes map[models.RunOutcome]int64
	last     *models.RunRecord
}

// SchedulerStats summarises the runs made so far
type SchedulerStats struct {
	Runs     int64                       `json:"runs"`
	Outcomes map[models.RunOutcome]int64 `json:"outcomes"`
	Last     *models.RunRecord           `json:"last,omitempty"`
}

// NewScheduler creates a scheduler for the given interval
func NewScheduler(runner Runner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		outcomes: make(map[models.RunOutcome]int64),
	}
}

// Start blocks running the pipeline until the context is cancelled. A run
// in progress is cancelled with the context. Ticks that arrive while a run
// is still going are dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Int64("runs", s.Stats().Runs).Msg("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res := s.runner.Run(ctx)

	s.mu.Lock()
	s.runs++
	s.outcomes[res.Run.Outcome]++
	run := res.Run
	s.last = &run
	s.mu.Unlock()

	s.logger.Info().
		Str("outcome", string(res.Run.Outcome)).
		Dur("duration", res.Run.Duration()).
		Time("next_run", time.Now().Add(s.interval)).
		Msg("Scheduled run finished")
}

// Stats returns a copy of the scheduler's counters
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outcomes := make(map[models.RunOutcome]int64, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	stats := SchedulerStats{Runs: s.runs, Outcomes: outcomes}
	if s.last != nil {
		last := *s.last
		stats.Last = &last
	}
	return stats
}
