package llm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/resilience"
)

// Middleware decorates a Generator.
type Middleware func(Generator) Generator

// Chain wraps g with mws. The first middleware is the outermost.
func Chain(g Generator, mws ...Middleware) Generator {
	for i := len(mws) - 1; i >= 0; i-- {
		g = mws[i](g)
	}
	return g
}

// WithRetry retries retryable failures under policy p.
func WithRetry(p resilience.Policy) Middleware {
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	return func(next Generator) Generator {
		return GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
			p := p
			if p.OnRetry == nil {
				p.OnRetry = resilience.RetryLogger("llm", string(req.Stage))
			}
			return resilience.DoVal(ctx, p, func(ctx context.Context) (*Response, error) {
				return next.Generate(ctx, req)
			})
		})
	}
}

// WithRateLimit waits for a token from lim before each call.
func WithRateLimit(lim *rate.Limiter) Middleware {
	return func(next Generator) Generator {
		return GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
			if err := lim.Wait(ctx); err != nil {
				return nil, err
			}
			return next.Generate(ctx, req)
		})
	}
}

// WithCircuitBreaker fails fast while b is open.
func WithCircuitBreaker(b *resilience.Breaker, p Provider) Middleware {
	return func(next Generator) Generator {
		return GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
			resp, err := resilience.ExecuteVal(ctx, b, func(ctx context.Context) (*Response, error) {
				return next.Generate(ctx, req)
			})
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return nil, &Error{Kind: KindCircuitOpen, Provider: p, Err: err}
			}
			return resp, err
		})
	}
}

// WithLogging logs each call's outcome, latency and token counts.
func WithLogging() Middleware {
	return func(next Generator) Generator {
		return GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
			start := time.Now()
			resp, err := next.Generate(ctx, req)
			fields := []zap.Field{
				zap.String("stage", string(req.Stage)),
				zap.String("label", req.Label),
				zap.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				zap.L().Warn("llm: generate failed", append(fields, zap.Error(err))...)
				return nil, err
			}
			zap.L().Debug("llm: generate complete", append(fields,
				zap.String("model", resp.Model),
				zap.Int64("input_tokens", resp.Usage.InputTokens),
				zap.Int64("output_tokens", resp.Usage.OutputTokens),
			)...)
			return resp, nil
		})
	}
}

// Meter accumulates token usage per model. It is safe for concurrent use.
type Meter struct {
	mu      sync.Mutex
	byModel map[string]model.TokenUsage
}

// NewMeter creates an empty meter.
func NewMeter() *Meter {
	return &Meter{byModel: map[string]model.TokenUsage{}}
}

// Record adds one response's usage.
func (m *Meter) Record(modelID string, u model.TokenUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.byModel[modelID]
	cur.Add(u)
	m.byModel[modelID] = cur
}

// Total returns usage summed over all models.
func (m *Meter) Total() model.TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total model.TokenUsage
	for _, u := range m.byModel {
		total.Add(u)
	}
	return total
}

// ByModel returns a copy of the per-model usage.
func (m *Meter) ByModel() map[string]model.TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.TokenUsage, len(m.byModel))
	for k, v := range m.byModel {
		out[k] = v
	}
	return out
}

// Models returns the metered model ids, sorted.
func (m *Meter) Models() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.byModel))
	for k := range m.byModel {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// Metered records the usage of every successful call into m.
func Metered(g Generator, m *Meter) Generator {
	return GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		resp, err := g.Generate(ctx, req)
		if err == nil && resp != nil {
			m.Record(resp.Model, resp.Usage)
		}
		return resp, err
	})
}
