package models

import (
	"testing"
	"time"
)

func TestRunOutcome_Succeeded(t *testing.T) {
	tests := []struct {
		outcome RunOutcome
		want    bool
	}{
		{RunOutcomeCommitted, true},
		{RunOutcomeNoData, false},
		{RunOutcomeStoreFailed, false},
		{RunOutcomeCommitFailed, false},
		{RunOutcomeCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			if got := tt.outcome.Succeeded(); got != tt.want {
				t.Errorf("Succeeded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunRecord_Duration(t *testing.T) {
	start := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	r := RunRecord{StartedAt: start}
	if r.Duration() != 0 {
		t.Errorf("unfinished run Duration() = %v, want 0", r.Duration())
	}

	r.FinishedAt = start.Add(42 * time.Second)
	if r.Duration() != 42*time.Second {
		t.Errorf("Duration() = %v, want 42s", r.Duration())
	}
}
