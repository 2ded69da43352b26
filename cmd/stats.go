package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/skillgen/internal/monitoring"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		asJSON, _ := cmd.Flags().GetBool("json")

		snap, err := monitoring.NewCollector(st).Collect(ctx, int(since/time.Hour))
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		formatStats(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	statsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats, 0 for all time (e.g. 24h, 168h)")
	statsCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statsCmd)
}

// formatStats writes a snapshot to w.
func formatStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	window := "all time"
	if s.LookbackHours > 0 {
		window = fmt.Sprintf("last %dh", s.LookbackHours)
	}
	_, _ = fmt.Fprintf(w, "Window:\t%s\n", window)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.RunsSucceeded)
	_, _ = fmt.Fprintf(w, "Exhausted:\t%d\n", s.RunsExhausted)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailureRate*100)
	_, _ = fmt.Fprintf(w, "Avg attempts:\t%.2f\n", s.AvgAttempts)
	_, _ = fmt.Fprintf(w, "Tokens:\t%d in / %d out (%d calls)\n", s.InputTokens, s.OutputTokens, s.Calls)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.CostUSD)

	libs := make([]string, 0, len(s.Libraries))
	for name := range s.Libraries {
		libs = append(libs, name)
	}
	sort.Strings(libs)
	for _, name := range libs {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", name, s.Libraries[name])
	}
	_ = w.Flush()
}
