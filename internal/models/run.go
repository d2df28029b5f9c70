package models

import "time"

// RunOutcome is how a pipeline run ended.
type RunOutcome string

const (
	RunOutcomeCommitted    RunOutcome = "committed"
	RunOutcomeNoData       RunOutcome = "no_data"
	RunOutcomeStoreFailed  RunOutcome = "store_failed"
	RunOutcomeCommitFailed RunOutcome = "commit_failed"
	RunOutcomeCancelled    RunOutcome = "cancelled"
)

// Succeeded reports whether the run produced a new committed table version.
func (o RunOutcome) Succeeded() bool {
	return o == RunOutcomeCommitted
}

// RunRecord describes one execution of the scrape-merge-commit pipeline.
type RunRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Attempts   int        `json:"attempts"`
	Outcome    RunOutcome `json:"outcome"`
	RowCount   int        `json:"row_count"`
	CommitID   string     `json:"commit_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
