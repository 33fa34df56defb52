package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-cli/internal/resilience"
)

func newTestServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testRequest() MessageRequest {
	temp := 0.7
	return MessageRequest{
		Model:       "claude-haiku-4-5",
		MaxTokens:   220,
		System:      "Ты маркетолог банка.",
		Messages:    []Message{{Role: "user", Content: "Перепиши push"}},
		Temperature: &temp,
	}
}

func TestCreateMessage(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": " Айгерим, в августе... "}},
			"model":       "claude-haiku-4-5",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 120, "output_tokens": 60},
		})
	}))
	defer ts.Close()

	c := NewClient("test-key", option.WithBaseURL(ts.URL))
	resp, err := c.CreateMessage(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Айгерим, в августе...", resp.Text())
	assert.Equal(t, int64(120), resp.Usage.InputTokens)

	assert.Equal(t, "claude-haiku-4-5", got["model"])
	assert.InDelta(t, 0.7, got["temperature"], 1e-9)
	assert.InDelta(t, 220, got["max_tokens"], 1e-9)
	require.Len(t, got["system"], 1)
}

func TestCreateMessage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"overloaded", 529, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.status, map[string]any{
				"type":  "error",
				"error": map[string]any{"type": "api_error", "message": "failed"},
			})
			c := NewClient("test-key", option.WithBaseURL(ts.URL))
			_, err := c.CreateMessage(context.Background(), testRequest())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "anthropic: create message")
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestMessageResponse_Text(t *testing.T) {
	var nilResp *MessageResponse
	assert.Empty(t, nilResp.Text())

	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "Привет, "},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "мир"},
	}}
	assert.Equal(t, "Привет, мир", resp.Text())
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 6.0, u.EstimateCost("claude-haiku-4-5"), 1e-9)
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5"), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown"))
	assert.NotPanics(t, func() { u.LogCost("claude-haiku-4-5", "push") })
}
