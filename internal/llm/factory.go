package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/resilience"
	"github.com/sells-group/skillgen/pkg/anthropic"
	"github.com/sells-group/skillgen/pkg/gemini"
	"github.com/sells-group/skillgen/pkg/openai"
)

// New builds the configured backend wrapped in logging, retry, circuit
// breaking and rate limiting.
func New(ctx context.Context, cfg *config.Config) (Generator, error) {
	p, err := ParseProvider(cfg.Generation.Provider)
	if err != nil {
		return nil, err
	}
	base, err := newBackend(ctx, p, cfg)
	if err != nil {
		return nil, err
	}
	return Resilient(base, p, cfg.Generation), nil
}

func newBackend(ctx context.Context, p Provider, cfg *config.Config) (Generator, error) {
	g := cfg.Generation
	switch p {
	case ProviderAnthropic:
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("llm: anthropic.key is required for provider anthropic")
		}
		var opts []anthropic.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		return NewAnthropicGenerator(anthropic.NewClient(cfg.Anthropic.Key, opts...), p, g.DefaultModel, g.MaxTokens, g.Temperature), nil

	case ProviderBedrock:
		client, err := anthropic.NewBedrockClient(ctx, anthropic.BedrockConfig{
			Region:  cfg.Bedrock.Region,
			Profile: cfg.Bedrock.Profile,
		})
		if err != nil {
			return nil, eris.Wrap(err, "llm: bedrock client")
		}
		return NewAnthropicGenerator(client, p, g.DefaultModel, g.MaxTokens, g.Temperature), nil

	case ProviderGemini:
		if cfg.Gemini.Key == "" {
			return nil, eris.New("llm: gemini.key is required for provider gemini")
		}
		client, err := gemini.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, eris.Wrap(err, "llm: gemini client")
		}
		return NewGeminiGenerator(client, g.DefaultModel, g.MaxTokens, g.Temperature), nil

	case ProviderOpenAI:
		// Local compatible servers often need no key.
		client := openai.NewClient(cfg.OpenAI.Key, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		return NewOpenAIGenerator(client, g.DefaultModel, g.MaxTokens, g.Temperature), nil
	}
	return nil, eris.Errorf("llm: unsupported provider %q", p)
}

// Resilient wraps base with the middleware stack configured by g.
func Resilient(base Generator, p Provider, g config.GenerationConfig) Generator {
	policy := resilience.DefaultPolicy()
	if g.MaxAttempts > 0 {
		policy.Attempts = g.MaxAttempts
	}

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Threshold:  g.CircuitThreshold,
		Cooldown:   time.Duration(g.CircuitResetSecs) * time.Second,
		ShouldTrip: IsRetryable,
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("llm: circuit state changed",
				zap.String("provider", string(p)),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	mws := []Middleware{WithLogging(), WithRetry(policy), WithCircuitBreaker(breaker, p)}
	if g.RequestsPerSecond > 0 {
		burst := max(g.Burst, 1)
		mws = append(mws, WithRateLimit(rate.NewLimiter(rate.Limit(g.RequestsPerSecond), burst)))
	}
	return Chain(base, mws...)
}
