package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/llm"
	"github.com/sells-group/skillgen/internal/model"
)

// Extract runs the three extraction agents over the collected data. With
// parallel set, every call is dispatched before any is awaited. The results
// are returned in canonical role order. Any failure fails the stage.
func Extract(ctx context.Context, gen llm.Generator, cfg *config.Config, data *model.CollectedData) ([]model.ExtractionResult, error) {
	system := instruction(extractSystem, cfg.Pipeline.Instructions[string(llm.StageExtract)])
	libCtx := libraryContext(data.Metadata)
	modelID := cfg.Generation.ModelFor(string(llm.StageExtract))

	results := make([]model.ExtractionResult, len(model.ExtractionRoles))
	run := func(ctx context.Context, i int, role model.ExtractionRole) error {
		start := time.Now()
		resp, err := gen.Generate(ctx, llm.Request{
			Stage:   llm.StageExtract,
			Label:   string(role),
			Model:   modelID,
			System:  system,
			Context: libCtx,
			Prompt:  extractPrompt(role, data),
		})
		if err != nil {
			results[i] = model.ExtractionResult{Role: role, Error: err.Error()}
			return eris.Wrapf(err, "extract: %s", role)
		}
		results[i] = model.ExtractionResult{Role: role, Output: resp.Text, OK: true}
		zap.L().Debug("extract: role complete",
			zap.String("role", string(role)),
			zap.Int("output_bytes", len(resp.Text)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	}

	if !cfg.Pipeline.ParallelExtraction {
		for i, role := range model.ExtractionRoles {
			if err := run(ctx, i, role); err != nil {
				return results, err
			}
		}
		return results, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i, role := range model.ExtractionRoles {
		g.Go(func() error {
			return run(gCtx, i, role)
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
