package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/collect"
	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/llm"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/pipeline"
	"github.com/sells-group/skillgen/internal/procsup"
	"github.com/sells-group/skillgen/internal/runtimes"
	"github.com/sells-group/skillgen/internal/sandbox"
	"github.com/sells-group/skillgen/internal/store"
)

// generateOptions are the per-invocation settings of the generate command.
type generateOptions struct {
	Input      string
	Output     string
	Existing   string
	MaxRetries int
	Timeout    time.Duration
	Mode       string
	Strategy   string
	Sequential bool
	NoReview   bool
	DryRun     bool
}

var genOpts generateOptions

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate and validate a skill document for one library",
	Long: "Reads a collected-data snapshot, runs extraction, synthesis, review and sandboxed " +
		"validation, and writes the accepted document. Exit status is 0 when a document passed, " +
		"2 when retries ran out and the best attempt was written, and 1 when nothing was written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyGenerateFlags(cmd, cfg, genOpts)
		return runGenerate(ctx, cfg, genOpts, cmd.OutOrStdout())
	},
}

// applyGenerateFlags copies explicitly set flags over the loaded config.
func applyGenerateFlags(cmd *cobra.Command, c *config.Config, o generateOptions) {
	flags := cmd.Flags()
	if flags.Changed("max-retries") {
		c.Pipeline.MaxRetries = o.MaxRetries
	}
	if flags.Changed("timeout") {
		c.Sandbox.Timeout = o.Timeout
	}
	if flags.Changed("mode") {
		c.Validation.Mode = o.Mode
	}
	if flags.Changed("strategy") {
		c.Sandbox.Strategy = o.Strategy
	}
	if o.Sequential {
		c.Pipeline.ParallelExtraction = false
	}
	if o.NoReview {
		c.Pipeline.Review = false
	}
	if o.DryRun {
		c.Validation.Enabled = false
	}
}

func runGenerate(ctx context.Context, c *config.Config, o generateOptions, out io.Writer) error {
	if err := c.Validate(); err != nil {
		return err
	}

	reg := runtimes.Default()
	data, err := collect.Load(o.Input, reg)
	if err != nil {
		return err
	}

	var existing string
	if o.Existing != "" {
		b, err := os.ReadFile(o.Existing)
		if err != nil {
			return eris.Wrap(err, "generate: read existing document")
		}
		existing = string(b)
	}

	gen, err := newGenerator(ctx, c, reg, data.Metadata, o.DryRun)
	if err != nil {
		return err
	}

	runner := procsup.New(
		procsup.WithMaxOutput(c.Sandbox.MaxOutputBytes),
		procsup.WithWaitDelay(c.Sandbox.KillGrace),
	)
	exec, err := sandbox.New(c.Sandbox, reg, runner)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{pipeline.WithRegistry(reg)}
	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close() //nolint:errcheck
		opts = append(opts, pipeline.WithRecorder(st))
	}

	outcome, runErr := pipeline.New(c, gen, exec, opts...).Run(ctx, data, existing)
	if outcome != nil {
		printOutcome(out, outcome)
	}
	if runErr != nil {
		return eris.Wrap(runErr, "generate")
	}

	if err := writeArtifact(o.Output, outcome.Final.Artifact); err != nil {
		return err
	}
	zap.L().Info("generate: document written",
		zap.String("path", o.Output),
		zap.String("disposition", outcome.Disposition.String()),
	)

	if outcome.Disposition == model.ExhaustedRetries {
		return &exitError{code: 2, err: eris.New(outcome.Reason)}
	}
	return nil
}

func newGenerator(ctx context.Context, c *config.Config, reg *runtimes.Registry, meta model.LibraryMetadata, dryRun bool) (llm.Generator, error) {
	if !dryRun {
		return llm.New(ctx, c)
	}
	stub := llm.Stub{Runtime: "python"}
	if rt, ok := reg.Lookup(meta.Ecosystem); ok {
		stub.Runtime = rt.ID()
	}
	zap.L().Info("generate: dry run, using offline generator and skipping validation")
	return stub, nil
}

// writeArtifact replaces path atomically so an interrupted write never
// leaves a truncated document behind.
func writeArtifact(path, artifact string) error {
	if path == "-" {
		_, err := io.WriteString(os.Stdout, artifact)
		return eris.Wrap(err, "generate: write stdout")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrap(err, "generate: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.WriteString(tmp, artifact); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "generate: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "generate: close temp file")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return eris.Wrap(err, "generate: chmod")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "generate: rename to %s", path)
	}
	return nil
}

func printOutcome(w io.Writer, o *model.RunOutcome) {
	_, _ = fmt.Fprintf(w, "run:         %s\n", o.RunID)
	_, _ = fmt.Fprintf(w, "disposition: %s\n", o.Disposition)
	_, _ = fmt.Fprintf(w, "attempts:    %d\n", o.Attempts)
	if o.Final != nil {
		_, _ = fmt.Fprintf(w, "final:       attempt %d, %d patterns passed\n", o.Final.Index+1, o.Final.PatternsPassed())
		if v := o.Final.Validation; v != nil && len(v.Waived) > 0 {
			_, _ = fmt.Fprintf(w, "waived:      %d patterns\n", len(v.Waived))
		}
	}
	if o.Reason != "" {
		_, _ = fmt.Fprintf(w, "reason:      %s\n", o.Reason)
	}
	_, _ = fmt.Fprintf(w, "tokens:      %d in / %d out over %d calls\n", o.Usage.InputTokens, o.Usage.OutputTokens, o.Usage.Calls)
	_, _ = fmt.Fprintf(w, "cost:        $%.4f\n", o.CostUSD)
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genOpts.Input, "input", "", "collected-data snapshot (.json, .yaml, or - for stdin)")
	f.StringVar(&genOpts.Output, "output", "SKILL.md", "where to write the document (- for stdout)")
	f.StringVar(&genOpts.Existing, "existing", "", "existing document to update")
	f.IntVar(&genOpts.MaxRetries, "max-retries", 3, "retries after the first attempt")
	f.DurationVar(&genOpts.Timeout, "timeout", 60*time.Second, "per-probe execution timeout")
	f.StringVar(&genOpts.Mode, "mode", string(model.ValidationAdaptive), "validation mode: exhaustive, adaptive or minimal")
	f.StringVar(&genOpts.Strategy, "strategy", "container", "sandbox strategy: container or local")
	f.BoolVar(&genOpts.Sequential, "sequential", false, "run the extraction stages one at a time")
	f.BoolVar(&genOpts.NoReview, "no-review", false, "skip the review stage")
	f.BoolVar(&genOpts.DryRun, "dry-run", false, "use the offline generator and skip validation")
	_ = generateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(generateCmd)
}
