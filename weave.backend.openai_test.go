package weave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionsHandler(t *testing.T, capture *chatCompletionRequest, reply string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, chatCompletionsPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(capture))

		resp := map[string]any{
			"choices": []map[string]any{
				{
					"message":       map[string]any{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     10,
				"completion_tokens": 5,
				"total_tokens":      15,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestNewHTTPBackend_RequiresModel(t *testing.T) {
	t.Setenv(EnvModel, "")
	_, err := NewHTTPBackend(HTTPBackendConfig{})
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
	assert.Contains(t, err.Error(), "model name is required")
}

func TestNewHTTPBackend_EnvFallbacks(t *testing.T) {
	t.Setenv(EnvModel, "env-model")
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvBaseURL, "http://127.0.0.1:1/v1")

	backend, err := NewHTTPBackend(HTTPBackendConfig{})
	require.NoError(t, err)
	assert.Equal(t, "env-model", backend.Model())
	assert.Equal(t, "http://127.0.0.1:1/v1"+chatCompletionsPath, backend.endpoint)
	assert.Equal(t, "env-key", backend.apiKey)
}

func TestHTTPBackend_Generate(t *testing.T) {
	var captured chatCompletionRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		completionsHandler(t, &captured, "generated text")(w, r)
	}))
	defer server.Close()

	backend, err := NewHTTPBackend(HTTPBackendConfig{
		Model:   "test-model",
		APIKey:  "sk-test",
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	maxTokens := 50
	temperature := 0.3
	resp, err := backend.Generate(context.Background(), &GenerationRequest{
		Prompt:      "describe caching",
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Stop:        []string{"END"},
	})
	require.NoError(t, err)
	assert.Equal(t, "generated text", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "test-model", captured.Model)
	require.NotNil(t, captured.MaxTokens)
	assert.Equal(t, 50, *captured.MaxTokens)
	require.NotNil(t, captured.Temperature)
	assert.InDelta(t, 0.3, *captured.Temperature, 1e-9)
	assert.Equal(t, []string{"END"}, captured.Stop)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, DefaultSystemInstruction, captured.Messages[0].Content)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Equal(t, "describe caching", captured.Messages[1].Content)
}

func TestHTTPBackend_Generate_DefaultsAndOverrides(t *testing.T) {
	var captured chatCompletionRequest
	server := httptest.NewServer(completionsHandler(t, &captured, "ok"))
	defer server.Close()

	defaultMax := 100
	defaultTemp := 0.7
	backend, err := NewHTTPBackend(HTTPBackendConfig{
		Model:       "m",
		BaseURL:     server.URL,
		MaxTokens:   &defaultMax,
		Temperature: &defaultTemp,
	})
	require.NoError(t, err)

	// No per-request values: backend defaults apply.
	_, err = backend.Generate(context.Background(), &GenerationRequest{Prompt: "p"})
	require.NoError(t, err)
	require.NotNil(t, captured.MaxTokens)
	assert.Equal(t, 100, *captured.MaxTokens)
	assert.InDelta(t, 0.7, *captured.Temperature, 1e-9)

	// Per-request values win.
	reqMax := 10
	_, err = backend.Generate(context.Background(), &GenerationRequest{Prompt: "p", MaxTokens: &reqMax})
	require.NoError(t, err)
	assert.Equal(t, 10, *captured.MaxTokens)
	assert.InDelta(t, 0.7, *captured.Temperature, 1e-9)
}

func TestHTTPBackend_Generate_NoSystemMessage(t *testing.T) {
	var captured chatCompletionRequest
	server := httptest.NewServer(completionsHandler(t, &captured, "ok"))
	defer server.Close()

	backend, err := NewHTTPBackend(HTTPBackendConfig{
		Model:             "m",
		BaseURL:           server.URL,
		SystemInstruction: "-",
	})
	require.NoError(t, err)

	_, err = backend.Generate(context.Background(), &GenerationRequest{Prompt: "p"})
	require.NoError(t, err)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestHTTPBackend_Generate_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer server.Close()

	backend, err := NewHTTPBackend(HTTPBackendConfig{Model: "m", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = backend.Generate(context.Background(), &GenerationRequest{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
	assert.Contains(t, err.Error(), ErrMsgBackendHTTPStatus)
}

func TestHTTPBackend_Generate_BadResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	backend, err := NewHTTPBackend(HTTPBackendConfig{Model: "m", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = backend.Generate(context.Background(), &GenerationRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrMsgBackendBadResponse)
}

func TestHTTPBackend_Generate_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	backend, err := NewHTTPBackend(HTTPBackendConfig{Model: "m", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = backend.Generate(context.Background(), &GenerationRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrMsgBackendNoChoices)
}

func TestHTTPBackend_Generate_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(completionsHandler(t, &chatCompletionRequest{}, "ok"))
	defer server.Close()

	backend, err := NewHTTPBackend(HTTPBackendConfig{Model: "m", BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = backend.Generate(ctx, &GenerationRequest{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
	assert.ErrorIs(t, err, context.Canceled)
}
