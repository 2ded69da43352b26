package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/resilience"
	"github.com/sells-group/skillgen/pkg/anthropic"
	"github.com/sells-group/skillgen/pkg/openai"
)

func TestParseProvider(t *testing.T) {
	for _, s := range []string{"anthropic", "Bedrock", " gemini ", "OPENAI"} {
		p, err := ParseProvider(s)
		require.NoError(t, err, s)
		assert.NotEmpty(t, p.DefaultModel())
	}
	_, err := ParseProvider("cohere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name      string
		status    int
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"auth", 401, base, KindAuth, false},
		{"forbidden", 403, base, KindAuth, false},
		{"rate limited", 429, base, KindRateLimited, true},
		{"overloaded", 529, base, KindTransient, true},
		{"server", 503, base, KindTransient, true},
		{"bad request", 400, base, KindInvalidRequest, false},
		{"network", 0, errors.New("read: connection reset by peer"), KindTransient, true},
		{"unknown", 0, base, KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(ProviderAnthropic, tt.status, tt.err)
			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassify_ContextErrorsPassThrough(t *testing.T) {
	assert.Equal(t, context.Canceled, classify(ProviderGemini, 0, context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.Nil(t, classify(ProviderGemini, 500, nil))
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "rate_limited", KindRateLimited.String())
	assert.Equal(t, "circuit_open", KindCircuitOpen.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}

func counting(calls *int32, errs ...error) Generator {
	return GeneratorFunc(func(_ context.Context, req Request) (*Response, error) {
		n := atomic.AddInt32(calls, 1)
		if int(n) <= len(errs) {
			return nil, errs[n-1]
		}
		return &Response{Text: "ok", Model: req.Model, Usage: model.TokenUsage{InputTokens: 3, OutputTokens: 2, Calls: 1}}, nil
	})
}

func fastRetry(attempts int) resilience.Policy {
	return resilience.Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestWithRetry(t *testing.T) {
	var calls int32
	transient := &Error{Kind: KindTransient, Provider: ProviderOpenAI, Err: errors.New("503")}
	g := Chain(counting(&calls, transient, transient), WithRetry(fastRetry(3)))

	resp, err := g.Generate(context.Background(), Request{Stage: StageReview})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), calls)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	var calls int32
	g := Chain(counting(&calls, &Error{Kind: KindAuth, Err: errors.New("bad key")}), WithRetry(fastRetry(5)))
	_, err := g.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestWithCircuitBreaker(t *testing.T) {
	var calls int32
	transient := &Error{Kind: KindTransient, Err: errors.New("503")}
	b := resilience.NewBreaker(resilience.BreakerConfig{Threshold: 2, Cooldown: time.Hour, ShouldTrip: IsRetryable})
	g := Chain(counting(&calls, transient, transient, transient), WithCircuitBreaker(b, ProviderAnthropic))

	_, _ = g.Generate(context.Background(), Request{})
	_, _ = g.Generate(context.Background(), Request{})
	_, err := g.Generate(context.Background(), Request{})

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindCircuitOpen, e.Kind)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(2), calls)
}

func TestWithRateLimit_HonorsContext(t *testing.T) {
	var calls int32
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	g := Chain(counting(&calls), WithRateLimit(lim))

	_, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, Request{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Generator) Generator {
			return GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
				order = append(order, name)
				return next.Generate(ctx, req)
			})
		}
	}
	var calls int32
	_, err := Chain(counting(&calls), mark("outer"), mark("inner"), WithLogging()).Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestMeter(t *testing.T) {
	m := NewMeter()
	var calls int32
	g := Metered(counting(&calls), m)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			modelID := "a"
			if i%2 == 0 {
				modelID = "b"
			}
			_, _ = g.Generate(context.Background(), Request{Model: modelID})
		}(i)
	}
	wg.Wait()

	total := m.Total()
	assert.Equal(t, int64(30), total.InputTokens)
	assert.Equal(t, int64(20), total.OutputTokens)
	assert.Equal(t, 10, total.Calls)
	assert.Equal(t, []string{"a", "b"}, m.Models())
	assert.Equal(t, 5, m.ByModel()["a"].Calls)
}

func TestStub(t *testing.T) {
	s := Stub{Runtime: "go"}
	ctx := context.Background()

	resp, err := s.Generate(ctx, Request{Stage: StageSynthesize})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "```go\npackage main")

	resp, err = s.Generate(ctx, Request{Stage: StageReview})
	require.NoError(t, err)
	assert.JSONEq(t, `{"verdict": "pass", "issues": []}`, resp.Text)

	resp, err = s.Generate(ctx, Request{Stage: StageProbe})
	require.NoError(t, err)
	var probe map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Text), &probe))
	assert.Equal(t, StubMarker, probe["success_marker"])
	assert.Contains(t, probe["code"], StubMarker)

	again, err := s.Generate(ctx, Request{Stage: StageProbe})
	require.NoError(t, err)
	assert.Equal(t, resp.Text, again.Text)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Generate(cctx, Request{Stage: StageExtract})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnthropicGenerator(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "msg", "type": "message", "role": "assistant",
			"content":     []map[string]any{{"type": "text", "text": "draft"}},
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 4, "cache_read_input_tokens": 90},
		})
	}))
	defer srv.Close()

	g := NewAnthropicGenerator(anthropic.NewClient("k", anthropic.WithBaseURL(srv.URL)), ProviderAnthropic, "", 1024, 0.1)
	resp, err := g.Generate(context.Background(), Request{Stage: StageSynthesize, System: "rules", Context: "lib", Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "draft", resp.Text)
	assert.Equal(t, ProviderAnthropic.DefaultModel(), resp.Model)
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(4), resp.Usage.OutputTokens)
	assert.Equal(t, float64(1024), body["max_tokens"])
	assert.Len(t, body["system"], 2)
}

func TestOpenAIGenerator_ClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(openai.NewClient("k", openai.WithBaseURL(srv.URL)), "m", 0, 0)
	_, err := g.Generate(context.Background(), Request{Prompt: "x"})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindRateLimited, e.Kind)
	assert.Equal(t, http.StatusTooManyRequests, e.Status)
}

func TestOpenAIGenerator_EmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "  "}}]}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(openai.NewClient("k", openai.WithBaseURL(srv.URL)), "m", 0, 0)
	_, err := g.Generate(context.Background(), Request{Prompt: "x", JSON: true})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindEmptyResponse, e.Kind)
	assert.True(t, IsRetryable(err))
}

func TestNew_RequiresCredentials(t *testing.T) {
	cfg := &config.Config{Generation: config.GenerationConfig{Provider: "anthropic"}}
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")

	cfg.Generation.Provider = "gemini"
	_, err = New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key")

	cfg.Generation.Provider = "nope"
	_, err = New(context.Background(), cfg)
	require.Error(t, err)
}

func TestNew_OpenAIEndToEnd(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "hello"}}], "usage": {"prompt_tokens": 1, "completion_tokens": 1}}`))
	}))
	defer srv.Close()

	cfg := &config.Config{
		Generation: config.GenerationConfig{Provider: "openai", MaxAttempts: 3, CircuitThreshold: 5, CircuitResetSecs: 1},
		OpenAI:     config.OpenAIConfig{BaseURL: srv.URL},
	}
	g, err := New(context.Background(), cfg)
	require.NoError(t, err)

	resp, err := g.Generate(context.Background(), Request{Stage: StageExtract, Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
