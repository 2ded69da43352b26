package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageHandler(t *testing.T, capture *map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, capture))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":   "msg_001",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "---\nname: requests\n"},
				{"type": "text", "text": "---\n# Requests"},
			},
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":                120,
				"output_tokens":               40,
				"cache_creation_input_tokens": 0,
				"cache_read_input_tokens":     900,
			},
		})
	}
}

func TestCreateMessage(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(messageHandler(t, &body))
	defer ts.Close()

	temp := 0.2
	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   1024,
		System:      SystemPrompt("You write skill documents.", "Library: requests"),
		Messages:    []Message{{Role: "user", Content: "Write it."}},
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "msg_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "---\nname: requests\n---\n# Requests", resp.Text())
	assert.Equal(t, int64(120), resp.Usage.InputTokens)
	assert.Equal(t, int64(900), resp.Usage.CacheReadInputTokens)

	system, ok := body["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 2)
	first := system[0].(map[string]any)
	assert.Equal(t, "You write skill documents.", first["text"])
	assert.NotNil(t, first["cache_control"])
	assert.Nil(t, system[1].(map[string]any)["cache_control"])
	assert.Equal(t, 0.2, body["temperature"])
}

func TestCreateMessage_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Zero(t, StatusCode(io.EOF))
	assert.Zero(t, StatusCode(nil))
}

func TestSystemPrompt(t *testing.T) {
	blocks := SystemPrompt("stable", "")
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "5m", blocks[0].CacheControl.TTL)

	assert.Empty(t, SystemPrompt("", ""))

	blocks = SystemPrompt("", "only variable")
	require.Len(t, blocks, 1)
	assert.Nil(t, blocks[0].CacheControl)
}

func TestBedrockModel(t *testing.T) {
	assert.Equal(t, "us.anthropic.claude-sonnet-4-5-20250929-v1:0", BedrockModel("claude-sonnet-4-5-20250929"))
	assert.Equal(t, "us.anthropic.custom-v1:0", BedrockModel("us.anthropic.custom-v1:0"))
}

func TestToSDKMessages(t *testing.T) {
	out := toSDKMessages([]Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "other", Content: "c"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, out[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, out[2].Role)
}

func TestFromSDKMessage_EmptyContent(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{ID: "m", Model: "x"})
	assert.Empty(t, resp.Content)
	assert.Empty(t, resp.Text())
}
