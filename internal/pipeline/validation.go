package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/skillgen/internal/artifact"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/sandbox"
)

// runtimeFor picks the runtime probes are generated for. An explicit
// sandbox.runtime wins, then the library's ecosystem. Empty means each
// pattern runs in its own language.
func (r *runState) runtimeFor(meta model.LibraryMetadata) string {
	if r.o.cfg.Sandbox.Runtime != "" {
		if rt, ok := r.o.reg.Lookup(r.o.cfg.Sandbox.Runtime); ok {
			return rt.ID()
		}
		return r.o.cfg.Sandbox.Runtime
	}
	if rt, ok := r.o.reg.Lookup(meta.Ecosystem); ok {
		return rt.ID()
	}
	return ""
}

// selectPatterns parses the artifact and keeps the patterns that can run in
// the selected runtime, capped at validation.max_patterns.
func (r *runState) selectPatterns(doc, runtimeID string) []model.Pattern {
	all := artifact.ParsePatterns(doc, r.o.reg)
	var out []model.Pattern
	for _, p := range all {
		if runtimeID != "" && p.Language != runtimeID {
			zap.L().Debug("validate: skipping pattern in another language",
				zap.String("pattern", p.Name),
				zap.String("language", p.Language),
				zap.String("runtime", runtimeID),
			)
			continue
		}
		out = append(out, p)
	}
	if limit := r.o.cfg.Validation.MaxPatterns; limit > 0 && len(out) > limit {
		zap.L().Info("validate: capping patterns",
			zap.Int("found", len(out)),
			zap.Int("max_patterns", limit),
		)
		out = out[:limit]
	}
	return out
}

// validatePatterns generates and runs a probe for every pattern. Results keep
// pattern order. Pattern-level problems are recorded on the result; only an
// unavailable runtime or cancellation is returned as an error.
func (r *runState) validatePatterns(ctx context.Context, doc string, meta model.LibraryMetadata) ([]model.PatternResult, error) {
	runtimeID := r.runtimeFor(meta)
	patterns := r.selectPatterns(doc, runtimeID)
	if len(patterns) == 0 {
		return nil, nil
	}

	checked := map[string]bool{}
	for _, p := range patterns {
		id := p.Language
		if runtimeID != "" {
			id = runtimeID
		}
		if checked[id] {
			continue
		}
		checked[id] = true
		if err := r.o.exec.CheckAvailable(ctx, id); err != nil {
			return nil, eris.Wrapf(err, "validate: runtime %s", id)
		}
	}

	results := make([]model.PatternResult, len(patterns))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.o.cfg.Validation.Concurrency, 1))
	for i, p := range patterns {
		g.Go(func() error {
			id := p.Language
			if runtimeID != "" {
				id = runtimeID
			}
			results[i] = model.PatternResult{Pattern: p}

			pr, err := r.probes.Generate(gCtx, p, id, meta)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				zap.L().Warn("validate: probe generation failed", zap.String("pattern", p.Name), zap.Error(err))
				results[i].Err = err
				return nil
			}
			results[i].Probe = pr

			outcome, err := r.o.exec.Execute(gCtx, pr)
			if err != nil {
				if errors.Is(err, sandbox.ErrRuntimeUnavailable) {
					return err
				}
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				zap.L().Warn("validate: probe execution failed", zap.String("pattern", p.Name), zap.Error(err))
				results[i].Err = err
				return nil
			}
			results[i].Outcome = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "validate: run probes")
	}
	return results, nil
}
