package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/afroash/egat-monitor/internal/client"
	"github.com/afroash/egat-monitor/internal/models"
)

func newWatchCmd() *cobra.Command {
	var (
		url           string
		contamination int
		maxBackoff    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribes to a running dashboard and prints every snapshot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w, err := client.NewWatcher(client.WatcherConfig{
				URL:                  url,
				ContaminationPct:     contamination,
				ReconnectInterval:    time.Second,
				MaxReconnectInterval: maxBackoff,
			}, func(s *models.Snapshot) { printSnapshot(out, s) }, logger)
			if err != nil {
				return err
			}

			if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8081", "dashboard address")
	cmd.Flags().IntVar(&contamination, "contamination", 0, "anomaly sensitivity in percent (1-25); zero keeps the server default")
	cmd.Flags().DurationVar(&maxBackoff, "max-backoff", 30*time.Second, "longest wait between reconnect attempts")
	return cmd
}

func printSnapshot(out io.Writer, s *models.Snapshot) {
	if s.Latest == nil {
		fmt.Fprintf(out, "%s  no data (%d rows)\n", s.RefreshedAt.Format(time.TimeOnly), s.TotalRows)
		return
	}
	status := "normal"
	if s.LatestAnomaly {
		status = "ANOMALY"
	}
	next := ""
	if len(s.Forecast) > 0 {
		next = fmt.Sprintf("  next %.1f MW", s.Forecast[0].PowerMW)
	}
	fmt.Fprintf(out, "%s  %s  %.1f MW  %.1f C  %-7s  anomalies %d (%.1f%%)  avg %.1f  peak %.1f%s\n",
		s.RefreshedAt.Format(time.TimeOnly),
		s.Latest.DisplayTime,
		s.Latest.PowerMW,
		s.Latest.TemperatureC,
		status,
		s.Stats.AnomalyCount,
		s.Stats.AnomalyRate,
		s.Stats.AvgPowerMW,
		s.Stats.PeakPowerMW,
		next,
	)
}
