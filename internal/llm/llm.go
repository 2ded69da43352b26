// Package llm is the generation collaborator: a provider-neutral Generator
// interface, adapters for each backend, and middleware for retry, rate
// limiting, circuit breaking and token metering.
package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skillgen/internal/model"
)

// Stage identifies which pipeline stage issued a request. It selects the
// configured model and labels logs.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageSynthesize Stage = "synthesize"
	StageReview     Stage = "review"
	StageProbe      Stage = "probe"
)

// Request is one single-turn generation call.
type Request struct {
	Stage Stage
	// Label distinguishes calls within a stage, e.g. the extraction role.
	Label string
	// Model overrides the backend default when set.
	Model string
	// System holds instructions that stay identical across calls in a run.
	System string
	// Context holds per-call system material such as library metadata.
	Context string
	Prompt  string
	// JSON asks the backend for a JSON object response where supported.
	JSON        bool
	MaxTokens   int64
	Temperature *float64
}

// Response is the generated text and its token cost.
type Response struct {
	Text  string
	Model string
	Usage model.TokenUsage
}

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Provider names a generation backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
)

// Providers lists the supported backends.
var Providers = []Provider{ProviderAnthropic, ProviderBedrock, ProviderGemini, ProviderOpenAI}

// ParseProvider resolves a configured provider name.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", eris.Errorf("llm: unknown provider %q", s)
}

// DefaultModel is the model used when neither the request nor the
// configuration names one.
func (p Provider) DefaultModel() string {
	switch p {
	case ProviderAnthropic, ProviderBedrock:
		return "claude-sonnet-4-5-20250929"
	case ProviderGemini:
		return "gemini-2.5-pro"
	case ProviderOpenAI:
		return "gpt-4.1"
	}
	return ""
}
