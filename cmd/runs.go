package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/monitoring"
	"github.com/sells-group/benefit-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ranking run history",
	Long:  "Commands for listing recorded ranking runs and viewing their recommendations.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ranking runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("runs list: store is disabled")
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its recommendations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("runs show: store is disabled")
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		recs, err := st.LoadRecommendations(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run             *model.Run                  `json:"run"`
			Recommendations []store.SavedRecommendation `json:"recommendations"`
		}{run, recs})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize run health over a lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("runs stats: store is disabled")
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("since-hours")
		if !cmd.Flags().Changed("since-hours") {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		collector := monitoring.NewCollector(st, time.Duration(cfg.Monitoring.StaleRunMinutes)*time.Minute)
		snap, err := collector.Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsStatsCmd.Flags().Int("since-hours", 24, "lookback window in hours; 0 covers every run (default from config)")

	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tCLIENTS\tPRODUCTS\tTOP_N\tCATALOG\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t--------\t-----\t-------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.Clients,
			r.Products,
			r.TopN,
			truncateID(r.CatalogHash),
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes a run health snapshot to out.
func formatRunStats(out io.Writer, snap *monitoring.MetricsSnapshot) {
	window := "all time"
	if snap.LookbackHours > 0 {
		window = fmt.Sprintf("last %dh", snap.LookbackHours)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%s\n", window)
	_, _ = fmt.Fprintf(w, "Runs:\t%d\n", snap.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", snap.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", snap.RunsFailed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", snap.RunsRunning)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.FailRate*100)
	_, _ = fmt.Fprintf(w, "Clients ranked:\t%d\n", snap.ClientsRanked)
	_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", snap.AvgDurationSecs)
	if len(snap.StaleRuns) > 0 {
		ids := make([]string, len(snap.StaleRuns))
		for i, id := range snap.StaleRuns {
			ids[i] = truncateID(id)
		}
		_, _ = fmt.Fprintf(w, "Stale runs:\t%s\n", strings.Join(ids, ", "))
	}
	if snap.LastError != "" {
		_, _ = fmt.Fprintf(w, "Last error:\t%s\n", snap.LastError)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of an ID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
