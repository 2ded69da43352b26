// Package pipeline generates a skill document for one library: three
// extraction agents, synthesis, review and sandboxed validation, driven by a
// bounded retry loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/cost"
	"github.com/sells-group/skillgen/internal/llm"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/probe"
	"github.com/sells-group/skillgen/internal/runtimes"
	"github.com/sells-group/skillgen/internal/sandbox"
	"github.com/sells-group/skillgen/internal/store"
	"github.com/sells-group/skillgen/internal/validate"
)

// State is a step of the retry loop.
type State int

const (
	StateExtracting State = iota
	StateSynthesizing
	StateReviewing
	StateValidating
	StateRetrying
	StateDone
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateExtracting:
		return "extracting"
	case StateSynthesizing:
		return "synthesizing"
	case StateReviewing:
		return "reviewing"
	case StateValidating:
		return "validating"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// RetryBudget counts attempt iterations. A budget built from max_retries
// allows max_retries+1 attempts.
type RetryBudget struct {
	total int
	used  int
}

// NewRetryBudget returns a budget of maxRetries+1 attempts.
func NewRetryBudget(maxRetries int) *RetryBudget {
	return &RetryBudget{total: max(maxRetries, 0) + 1}
}

// Consume marks one attempt as completed.
func (b *RetryBudget) Consume() {
	if b.used < b.total {
		b.used++
	}
}

// Remaining returns how many attempts may still start.
func (b *RetryBudget) Remaining() int { return b.total - b.used }

// Exhausted reports whether no attempt may start.
func (b *RetryBudget) Exhausted() bool { return b.used >= b.total }

// Total returns the attempt limit.
func (b *RetryBudget) Total() int { return b.total }

// ProbeGenerator builds a runnable probe for a pattern.
type ProbeGenerator interface {
	Generate(ctx context.Context, p model.Pattern, runtimeID string, lib model.LibraryMetadata) (*model.Probe, error)
}

// ValidateFunc judges one validation pass.
type ValidateFunc func(mode model.ValidationMode, results []model.PatternResult, history *validate.FailureHistory) model.ValidationVerdict

// Orchestrator runs the generation pipeline for one library at a time. It
// holds no per-run state and may be reused.
type Orchestrator struct {
	cfg      *config.Config
	gen      llm.Generator
	exec     sandbox.Executor
	reg      *runtimes.Registry
	probes   ProbeGenerator
	evaluate ValidateFunc
	recorder store.Store
	costs    *cost.Calculator
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every run and attempt to the ledger.
func WithRecorder(s store.Store) Option {
	return func(o *Orchestrator) { o.recorder = s }
}

// WithProbeGenerator replaces the collaborator-backed probe generator.
func WithProbeGenerator(pg ProbeGenerator) Option {
	return func(o *Orchestrator) { o.probes = pg }
}

// WithValidator replaces the validation verdict function.
func WithValidator(fn ValidateFunc) Option {
	return func(o *Orchestrator) { o.evaluate = fn }
}

// WithRegistry sets the runtime registry used to parse patterns.
func WithRegistry(reg *runtimes.Registry) Option {
	return func(o *Orchestrator) { o.reg = reg }
}

// New creates an Orchestrator.
func New(cfg *config.Config, gen llm.Generator, exec sandbox.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		gen:      gen,
		exec:     exec,
		reg:      runtimes.Default(),
		evaluate: validate.Evaluate,
		costs:    cost.FromConfig(cfg.Pricing),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// runState is everything one call to Run accumulates.
type runState struct {
	o        *Orchestrator
	gen      llm.Generator
	probes   ProbeGenerator
	meter    *llm.Meter
	history  *validate.FailureHistory
	budget   *RetryBudget
	runID    string
	notes    []model.ExtractionResult
	attempts []*model.Attempt
	current  *model.Attempt
	feedback string
	err      error
}

// Run generates a skill document from data. existing, when non-empty, is a
// previous document to update. The returned error is non-nil exactly when
// the disposition is FatalFailure; the outcome is returned either way.
func (o *Orchestrator) Run(ctx context.Context, data *model.CollectedData, existing string) (*model.RunOutcome, error) {
	if data == nil {
		return nil, eris.New("pipeline: nil collected data")
	}
	if o.cfg.Pipeline.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Pipeline.RunTimeout)
		defer cancel()
	}

	meta := data.Metadata
	log := zap.L().With(zap.String("library", meta.Name), zap.String("version", meta.Version))

	meter := llm.NewMeter()
	r := &runState{
		o:       o,
		gen:     llm.Metered(o.gen, meter),
		probes:  o.probes,
		meter:   meter,
		history: validate.NewFailureHistory(o.cfg.Validation.AdaptiveThreshold),
		budget:  NewRetryBudget(o.cfg.Pipeline.MaxRetries),
	}
	if r.probes == nil {
		r.probes = probe.New(r.gen, o.reg, o.cfg.Generation.ModelFor(string(llm.StageProbe)))
	}
	r.runID = o.startRun(ctx, meta)
	log = log.With(zap.String("run_id", r.runID))
	log.Info("pipeline: starting run", zap.Int("max_attempts", r.budget.Total()))
	start := time.Now()

	mode := model.ValidationMode(o.cfg.Validation.Mode)
	if !mode.Valid() {
		mode = model.ValidationAdaptive
	}

	state := StateExtracting
	accepted := false
	for state != StateDone && state != StateFatal {
		if err := ctx.Err(); err != nil {
			state = r.fatal(eris.Wrap(err, "pipeline: run interrupted"))
			break
		}
		prev := state

		switch state {
		case StateExtracting:
			notes, err := Extract(ctx, r.gen, o.cfg, data)
			if err != nil {
				state = r.fatal(eris.Wrap(err, "pipeline: extraction failed"))
				break
			}
			r.notes = notes
			state = StateSynthesizing

		case StateSynthesizing:
			r.current = &model.Attempt{Index: len(r.attempts)}
			r.attempts = append(r.attempts, r.current)

			doc, err := Synthesize(ctx, r.gen, o.cfg, meta, r.notes, existing, r.feedback)
			if err != nil {
				if ctx.Err() != nil {
					state = r.fatal(eris.Wrap(ctx.Err(), "pipeline: run interrupted"))
					break
				}
				log.Warn("pipeline: synthesis failed", zap.Int("attempt", r.current.Index), zap.Error(err))
				r.current.Error = err.Error()
				r.current.Feedback = r.feedback
				state = StateRetrying
				break
			}
			r.current.Artifact = doc

			if issues := ScanSafety(doc); len(issues) > 0 {
				r.current.Review = &model.ReviewVerdict{Issues: issues}
				state = r.fatal(&SafetyViolationError{Attempt: r.current.Index, Issues: issues})
				break
			}
			if o.cfg.Pipeline.Review {
				state = StateReviewing
			} else {
				state = StateValidating
			}

		case StateReviewing:
			v := Review(ctx, r.gen, o.cfg, meta, r.notes, r.current.Artifact)
			if ctx.Err() != nil {
				state = r.fatal(eris.Wrap(ctx.Err(), "pipeline: run interrupted"))
				break
			}
			r.current.Review = v
			if issues := v.SafetyIssues(); len(issues) > 0 {
				state = r.fatal(&SafetyViolationError{Attempt: r.current.Index, Issues: issues})
				break
			}
			state = StateValidating

		case StateValidating:
			verdict := model.ValidationVerdict{Mode: mode, Skipped: true, OverallPass: true}
			if o.cfg.Validation.Enabled {
				results, err := r.validatePatterns(ctx, r.current.Artifact, meta)
				if err != nil {
					state = r.fatal(err)
					break
				}
				verdict = o.evaluate(mode, results, r.history)
				r.history.Record(results)
			}
			r.current.Validation = &verdict
			if ctx.Err() != nil {
				state = r.fatal(eris.Wrap(ctx.Err(), "pipeline: run interrupted"))
				break
			}

			if attemptPassed(r.current, o.cfg.Pipeline.Review) {
				accepted = true
				r.complete(ctx, true)
				state = StateDone
				break
			}
			r.feedback = feedbackFor(r.current)
			r.current.Feedback = r.feedback
			state = StateRetrying

		case StateRetrying:
			r.complete(ctx, false)
			log.Info("pipeline: attempt rejected",
				zap.Int("attempt", r.current.Index),
				zap.Int("patterns_passed", r.current.PatternsPassed()),
				zap.Int("remaining", r.budget.Remaining()),
			)
			if r.budget.Exhausted() {
				state = StateDone
			} else {
				state = StateSynthesizing
			}
		}

		if state != prev {
			log.Debug("pipeline: state transition", zap.Stringer("from", prev), zap.Stringer("to", state))
		}
	}

	outcome := r.outcome(accepted)
	if outcome.Disposition == model.FatalFailure && r.err == nil {
		r.err = eris.New("pipeline: " + outcome.Reason)
	}
	o.finishRun(ctx, r, outcome)

	fields := []zap.Field{
		zap.Stringer("disposition", outcome.Disposition),
		zap.Int("attempts", outcome.Attempts),
		zap.Int64("input_tokens", outcome.Usage.InputTokens),
		zap.Int64("output_tokens", outcome.Usage.OutputTokens),
		zap.Float64("cost_usd", outcome.CostUSD),
		zap.Duration("elapsed", time.Since(start)),
	}
	if outcome.Disposition == model.FatalFailure {
		log.Error("pipeline: run failed", append(fields, zap.Error(r.err))...)
		return outcome, r.err
	}
	log.Info("pipeline: run complete", fields...)
	return outcome, nil
}

// fatal records err as the run's terminal error. An attempt in progress is
// recorded as failed.
func (r *runState) fatal(err error) State {
	r.err = err
	if r.current != nil {
		if r.current.Error == "" {
			r.current.Error = err.Error()
		}
		r.complete(context.Background(), false)
	}
	return StateFatal
}

// complete consumes one unit of budget and records the current attempt. It
// runs at most once per attempt.
func (r *runState) complete(ctx context.Context, passed bool) {
	if r.current == nil {
		return
	}
	r.budget.Consume()
	r.o.recordAttempt(ctx, r.runID, r.current, passed)
	r.current = nil
}

func (r *runState) outcome(accepted bool) *model.RunOutcome {
	out := &model.RunOutcome{
		RunID:    r.runID,
		Attempts: len(r.attempts),
		Usage:    r.meter.Total(),
		CostUSD:  r.o.costs.Usage(r.meter.ByModel()),
	}
	switch {
	case r.err != nil:
		out.Disposition = model.FatalFailure
		out.Reason = r.err.Error()
	case accepted:
		out.Disposition = model.Succeeded
		out.Final = r.attempts[len(r.attempts)-1]
	default:
		best := BestAttempt(r.attempts)
		if best == nil {
			out.Disposition = model.FatalFailure
			out.Reason = "no attempt produced an artifact"
			if n := len(r.attempts); n > 0 && r.attempts[n-1].Error != "" {
				out.Reason += ": " + r.attempts[n-1].Error
			}
			break
		}
		out.Disposition = model.ExhaustedRetries
		out.Final = best
		out.Reason = fmt.Sprintf("retries exhausted after %d attempts; best attempt %d passed %d patterns",
			len(r.attempts), best.Index+1, best.PatternsPassed())
	}
	return out
}

// attemptPassed requires a passing review (when enabled) and a passing
// validation verdict.
func attemptPassed(a *model.Attempt, reviewEnabled bool) bool {
	if a.Error != "" || !a.HasArtifact() {
		return false
	}
	if reviewEnabled && (a.Review == nil || !a.Review.Passed) {
		return false
	}
	return a.Validation != nil && a.Validation.OverallPass
}

// BestAttempt picks the attempt with the most passing patterns, preferring
// the latest on ties. Attempts without an artifact are never chosen.
func BestAttempt(attempts []*model.Attempt) *model.Attempt {
	var best *model.Attempt
	for _, a := range attempts {
		if !a.HasArtifact() {
			continue
		}
		if best == nil || a.PatternsPassed() >= best.PatternsPassed() {
			best = a
		}
	}
	return best
}

// feedbackFor folds review accuracy issues and validation failures into the
// corrective text for the next synthesis call.
func feedbackFor(a *model.Attempt) string {
	var parts []string
	if issues := a.Review.AccuracyIssues(); len(issues) > 0 {
		var b strings.Builder
		b.WriteString("Review found these problems:")
		for _, is := range issues {
			fmt.Fprintf(&b, "\n- %s", is.Detail)
		}
		parts = append(parts, b.String())
	}
	if a.Validation != nil {
		if fb := validate.Feedback(*a.Validation); fb != "" {
			parts = append(parts, fb)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ledgerContext detaches ledger writes from run cancellation so an
// interrupted run is still recorded.
func ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func (o *Orchestrator) startRun(ctx context.Context, meta model.LibraryMetadata) string {
	if o.recorder == nil {
		return uuid.New().String()
	}
	run, err := o.recorder.CreateRun(ctx, meta, o.cfg.Generation.Provider)
	if err != nil {
		zap.L().Warn("pipeline: failed to create run record", zap.Error(err))
		return uuid.New().String()
	}
	return run.ID
}

func (o *Orchestrator) recordAttempt(ctx context.Context, runID string, a *model.Attempt, passed bool) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := ledgerContext(ctx)
	defer cancel()
	rec := model.NewAttemptRecord(runID, a, passed)
	if err := o.recorder.RecordAttempt(ctx, &rec); err != nil {
		zap.L().Warn("pipeline: failed to record attempt",
			zap.String("run_id", runID),
			zap.Int("attempt", a.Index),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, r *runState, out *model.RunOutcome) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := ledgerContext(ctx)
	defer cancel()
	best := -1
	if out.Final != nil {
		best = out.Final.Index
	}
	err := o.recorder.UpdateRunResult(ctx, r.runID, &model.RunResult{
		Status:      model.StatusFor(out.Disposition),
		Attempts:    out.Attempts,
		BestAttempt: best,
		Reason:      out.Reason,
		Usage:       out.Usage,
		CostUSD:     out.CostUSD,
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("pipeline: failed to update run result", zap.String("run_id", r.runID), zap.Error(err))
	}
}
