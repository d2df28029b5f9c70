package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/afroash/egat-monitor/internal/lakefs"
	"github.com/afroash/egat-monitor/internal/models"
	"github.com/afroash/egat-monitor/internal/quality"
	tbl "github.com/afroash/egat-monitor/internal/table"
)

// ErrQualityFailed is returned when at least one check fails
var ErrQualityFailed = errors.New("quality checks failed")

func newQualityCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Checks the history table against the configured quality thresholds.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			var rows []models.Reading
			if file != "" {
				rows, err = readLocalTable(file)
			} else {
				rows, err = readRemoteTable(cmd.Context(), cfg.LakeFS.Path, func(ctx context.Context) (tbl.Objects, error) {
					client, err := lakefs.NewS3Client(ctx, cfg.LakeFS)
					if err != nil {
						return nil, err
					}
					return lakefs.NewObjectStore(client, cfg.LakeFS, logger), nil
				})
			}
			if err != nil {
				return err
			}

			report := quality.Check(rows, quality.ThresholdsFromConfig(cfg.Quality))
			return printReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "check a local parquet file instead of the lakeFS table")
	return cmd
}

func readLocalTable(path string) ([]models.Reading, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return tbl.Decode(data)
}

func readRemoteTable(ctx context.Context, path string, open func(context.Context) (tbl.Objects, error)) ([]models.Reading, error) {
	objects, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	rows, err := tbl.Load(ctx, objects, path)
	if errors.Is(err, lakefs.ErrNotFound) {
		return nil, nil
	}
	return rows, err
}

// printReport renders the check table and returns ErrQualityFailed when
// any check failed
func printReport(out io.Writer, report *quality.Report) error {
	t := newTable(out)
	t.SetTitle("Dataset quality")
	t.AppendHeader(table.Row{"Check", "Actual", "Required", "Result"})
	for _, c := range report.Checks {
		result := "PASS"
		if !c.Passed {
			result = "FAIL"
		}
		t.AppendRow(table.Row{c.Name, c.Actual, c.Required, result})
	}
	t.AppendFooter(table.Row{"rows", report.Rows, "span", report.Span.String()})
	t.Render()

	if !report.Passed() {
		return fmt.Errorf("%w: %d of %d", ErrQualityFailed, len(report.Failed()), len(report.Checks))
	}
	fmt.Fprintln(out, "All quality checks passed.")
	return nil
}
