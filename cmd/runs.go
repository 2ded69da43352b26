package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect generation run history",
	Long:  "Commands for listing and viewing recorded generation runs and their attempts.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		library, _ := cmd.Flags().GetString("library")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:  model.RunStatus(status),
			Library: library,
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		attempts, err := st.ListAttempts(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show: attempts")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*model.Run
			AttemptRecords []model.AttemptRecord `json:"attempt_records"`
		}{run, attempts})
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, succeeded, exhausted, failed)")
	runsListCmd.Flags().String("library", "", "filter by library name")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLIBRARY\tSTATUS\tATTEMPTS\tBEST\tCOST\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t--------\t----\t----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		library := r.Library
		if r.Version != "" {
			library += "@" + r.Version
		}
		if len(library) > 30 {
			library = library[:27] + "..."
		}

		best := "-"
		if r.BestAttempt >= 0 && r.Status != model.RunStatusRunning {
			best = fmt.Sprintf("%d", r.BestAttempt+1)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t$%.4f\t%s\t%s\n",
			truncateID(r.ID),
			library,
			r.Status,
			r.Attempts,
			best,
			r.CostUSD,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
