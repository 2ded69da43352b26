// Package gemini wraps the genai SDK for single-turn text generation.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// Client generates content with a Gemini model.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is a single-turn generation request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int32
	Temperature *float32
	JSON        bool
}

// Response carries the generated text and token counts.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	FinishReason string
}

type sdkClient struct {
	cli *genai.Client
}

// Option configures the client.
type Option func(*genai.ClientConfig)

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = url
	}
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (Client, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	for _, o := range opts {
		o(cfg)
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{cli: cli}, nil
}

func (c *sdkClient) Generate(ctx context.Context, req Request) (*Response, error) {
	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
	}
	if req.System != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	resp, err := c.cli.Models.GenerateContent(ctx, req.Model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Prompt}}}},
		gc,
	)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate content")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, eris.New("gemini: empty response")
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		if p != nil && !p.Thought {
			text.WriteString(p.Text)
		}
	}
	out := &Response{
		Text:         text.String(),
		Model:        req.Model,
		FinishReason: string(cand.FinishReason),
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int64(u.PromptTokenCount)
		out.OutputTokens = int64(u.CandidatesTokenCount)
	}
	return out, nil
}

// StatusCode extracts the HTTP status from a genai API error, or 0.
func StatusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
