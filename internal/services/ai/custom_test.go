package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tg-relay-bot/internal/config"
	"github.com/tg-relay-bot/internal/relay"
	"github.com/tg-relay-bot/pkg/logger"
)

func completion(content, finishReason string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": finishReason,
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.GenerationConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL + "/v1/",
		Model:        "test-model",
		SystemPrompt: "Be brief.",
		MaxTokens:    64,
	}, logger.Discard())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestGenerate_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Equal(t, "2+2?", req.Messages[1].Content)

		writeJSON(w, http.StatusOK, completion("4", "stop"))
	})

	answer, err := client.Generate(context.Background(), "2+2?")
	require.NoError(t, err)
	require.Equal(t, "4", answer)
}

func TestGenerate_StripsThinking(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, completion("<think>2 plus 2</think>\n4", "stop"))
	})

	answer, err := client.Generate(context.Background(), "2+2?")
	require.NoError(t, err)
	require.Equal(t, "4", answer)
}

func TestGenerate_BackendErrors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode string
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error": map[string]any{"message": "quota exceeded", "type": "rate_limit_error"},
				})
			},
			wantCode: "429/rate_limit_error",
		},
		{
			name: "content filter",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, completion("", "content_filter"))
			},
			wantCode: "content_filter",
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"id": "x", "choices": []any{}})
			},
			wantCode: "empty_response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)

			_, err := client.Generate(context.Background(), "hi")

			var backendErr *relay.BackendError
			require.True(t, errors.As(err, &backendErr), "got %v", err)
			require.Equal(t, tt.wantCode, backendErr.Code)
			require.Equal(t, relay.KindBackendError, relay.Classify(err).Kind)
		})
	}
}

func TestGenerate_Deadline(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "hi")
	require.ErrorIs(t, err, relay.ErrTimeout)
	require.Equal(t, relay.KindTimeout, relay.Classify(err).Kind)
}

func TestGenerate_TransportFailureIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(&config.GenerationConfig{APIKey: "k", BaseURL: url, Model: "m"}, logger.Discard())

	_, err := client.Generate(context.Background(), "hi")
	require.Error(t, err)
	require.Equal(t, relay.KindUnknownError, relay.Classify(err).Kind)
}
