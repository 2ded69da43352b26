package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/pkg/anthropic"
	"github.com/sells-group/skillgen/pkg/gemini"
	"github.com/sells-group/skillgen/pkg/openai"
)

// defaults fills model and sampling settings missing from a request.
type defaults struct {
	provider    Provider
	model       string
	maxTokens   int64
	temperature float64
}

func (d defaults) apply(req Request) Request {
	if req.Model == "" {
		req.Model = d.model
	}
	if req.Model == "" {
		req.Model = d.provider.DefaultModel()
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = d.maxTokens
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 8192
	}
	if req.Temperature == nil {
		t := d.temperature
		req.Temperature = &t
	}
	return req
}

func emptyResponse(p Provider) error {
	return &Error{Kind: KindEmptyResponse, Provider: p, Err: errors.New("no text in response")}
}

// AnthropicGenerator serves requests through the Messages API, directly or
// via Bedrock.
type AnthropicGenerator struct {
	client anthropic.Client
	defaults
}

// NewAnthropicGenerator adapts an Anthropic client.
func NewAnthropicGenerator(client anthropic.Client, provider Provider, modelID string, maxTokens int64, temperature float64) *AnthropicGenerator {
	return &AnthropicGenerator{client: client, defaults: defaults{provider, modelID, maxTokens, temperature}}
}

// Generate implements Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	req = g.apply(req)
	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      anthropic.SystemPrompt(req.System, req.Context),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, classify(g.provider, anthropic.StatusCode(err), err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, emptyResponse(g.provider)
	}
	u := resp.Usage
	return &Response{
		Text:  text,
		Model: req.Model,
		Usage: model.TokenUsage{
			InputTokens:  u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens,
			OutputTokens: u.OutputTokens,
			Calls:        1,
		},
	}, nil
}

// GeminiGenerator serves requests through the Gemini API.
type GeminiGenerator struct {
	client gemini.Client
	defaults
}

// NewGeminiGenerator adapts a Gemini client.
func NewGeminiGenerator(client gemini.Client, modelID string, maxTokens int64, temperature float64) *GeminiGenerator {
	return &GeminiGenerator{client: client, defaults: defaults{ProviderGemini, modelID, maxTokens, temperature}}
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	req = g.apply(req)
	temp := float32(*req.Temperature)
	resp, err := g.client.Generate(ctx, gemini.Request{
		Model:       req.Model,
		System:      joinSystem(req.System, req.Context),
		Prompt:      req.Prompt,
		MaxTokens:   int32(min(req.MaxTokens, 1<<31-1)),
		Temperature: &temp,
		JSON:        req.JSON,
	})
	if err != nil {
		return nil, classify(g.provider, gemini.StatusCode(err), err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, emptyResponse(g.provider)
	}
	return &Response{
		Text:  resp.Text,
		Model: req.Model,
		Usage: model.TokenUsage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens, Calls: 1},
	}, nil
}

// OpenAIGenerator serves requests through an OpenAI-compatible endpoint.
type OpenAIGenerator struct {
	client openai.Client
	defaults
}

// NewOpenAIGenerator adapts an OpenAI-compatible client.
func NewOpenAIGenerator(client openai.Client, modelID string, maxTokens int64, temperature float64) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, defaults: defaults{ProviderOpenAI, modelID, maxTokens, temperature}}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	req = g.apply(req)
	var msgs []openai.Message
	if sys := joinSystem(req.System, req.Context); sys != "" {
		msgs = append(msgs, openai.Message{Role: "system", Content: sys})
	}
	msgs = append(msgs, openai.Message{Role: "user", Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   &req.MaxTokens,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
	}

	resp, err := g.client.ChatCompletion(ctx, creq)
	if err != nil {
		var se *openai.StatusError
		status := 0
		if errors.As(err, &se) {
			status = se.StatusCode
		}
		return nil, classify(g.provider, status, err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, emptyResponse(g.provider)
	}
	return &Response{
		Text:  text,
		Model: req.Model,
		Usage: model.TokenUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens, Calls: 1},
	}, nil
}

func joinSystem(system, extra string) string {
	switch {
	case system == "":
		return extra
	case extra == "":
		return system
	}
	return system + "\n\n" + extra
}
