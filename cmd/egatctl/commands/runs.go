package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/afroash/egat-monitor/internal/models"
	"github.com/afroash/egat-monitor/internal/storage"
)

func newRunsCmd() *cobra.Command {
	var (
		limit int
		days  int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists recent pipeline runs from the local run ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Database.Path); err != nil {
				return fmt.Errorf("run ledger not found at %s: %w", cfg.Database.Path, err)
			}

			store, err := storage.NewSQLiteStore(cfg.Database.Path, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)

			if days > 0 {
				end := time.Now().UTC()
				daily, err := store.GetDailyStats(end.AddDate(0, 0, -days), end)
				if err != nil {
					return err
				}
				printDaily(cmd.OutOrStdout(), daily)
			}

			stats, err := store.GetStorageStats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d runs, %.1f%% committed, ledger %.2f MB\n",
				stats.TotalRuns, stats.SuccessRate(), stats.DatabaseSizeMB)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().IntVar(&days, "days", 0, "also print per-day totals for this many days")
	return cmd
}

func printRuns(out io.Writer, runs []*models.RunRecord) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Started (UTC)", "Outcome", "Attempts", "Rows", "Commit", "Duration", "Error"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.StartedAt.UTC().Format(time.DateTime),
			r.Outcome,
			r.Attempts,
			r.RowCount,
			shortID(r.CommitID),
			r.Duration().Round(time.Millisecond),
			r.Error,
		})
	}
	t.Render()
}

func printDaily(out io.Writer, daily []storage.DailyStat) {
	t := newTable(out)
	t.SetTitle("Daily totals")
	t.AppendHeader(table.Row{"Date", "Runs", "Committed", "No data", "Failed", "Avg attempts", "Max rows"})
	for _, d := range daily {
		t.AppendRow(table.Row{d.Date.Format(time.DateOnly), d.Runs, d.Committed, d.NoData, d.Failed, fmt.Sprintf("%.1f", d.AvgAttempts), d.MaxRowCount})
	}
	t.Render()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
