package weave

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/itsatony/go-cuserr"
)

// HTTPBackendConfig configures an HTTPBackend. Zero-value fields fall back
// to the WEAVE_MODEL, WEAVE_API_KEY and WEAVE_BASE_URL environment
// variables, then to the package defaults.
type HTTPBackendConfig struct {
	// Model is the model identifier, e.g. "gpt-4o". Required (directly or
	// via WEAVE_MODEL).
	Model string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string
	// SystemInstruction is prepended as a system message. Defaults to
	// DefaultSystemInstruction; set to "-" to send no system message.
	SystemInstruction string
	// Temperature is the default sampling temperature for requests that do
	// not set their own.
	Temperature *float64
	// MaxTokens is the default response length cap for requests that do not
	// set their own.
	MaxTokens *int
	// HTTPClient overrides the default client (120s timeout).
	HTTPClient *http.Client
}

// HTTPBackend calls an OpenAI-compatible chat completions API. It works
// against any provider speaking that wire format, including local inference
// servers, by pointing BaseURL at them. Safe for concurrent use.
type HTTPBackend struct {
	model       string
	apiKey      string
	endpoint    string
	instruction string
	temperature *float64
	maxTokens   *int
	client      *http.Client
}

// NewHTTPBackend creates a backend from cfg, applying environment fallbacks.
func NewHTTPBackend(cfg HTTPBackendConfig) (*HTTPBackend, error) {
	model := cfg.Model
	if model == "" {
		model = os.Getenv(EnvModel)
	}
	if model == "" {
		return nil, NewBackendError(ErrMsgBackendNoModel, nil)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvAPIKey)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv(EnvBaseURL)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	instruction := cfg.SystemInstruction
	switch instruction {
	case "":
		instruction = DefaultSystemInstruction
	case "-":
		instruction = ""
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}

	return &HTTPBackend{
		model:       model,
		apiKey:      apiKey,
		endpoint:    strings.TrimSuffix(baseURL, "/") + chatCompletionsPath,
		instruction: instruction,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      client,
	}, nil
}

// Model returns the configured model identifier.
func (b *HTTPBackend) Model() string { return b.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *GenerationUsage `json:"usage"`
}

// Generate sends one chat completion request. Per-request MaxTokens and
// Temperature override the backend defaults.
func (b *HTTPBackend) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	payload := chatCompletionRequest{
		Model:       b.model,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
		Stop:        req.Stop,
	}
	if req.MaxTokens != nil {
		payload.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		payload.Temperature = req.Temperature
	}
	if b.instruction != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: b.instruction})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewBackendError(ErrMsgBackendCallFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewBackendError(ErrMsgBackendCallFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, NewBackendError(ErrMsgBackendCallFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, cuserr.NewInternalError(ErrMsgBackendHTTPStatus, nil).
			WithMetadata(MetaKeyClass, errClassBackend).
			WithMetadata(MetaKeyStatus, strconv.Itoa(resp.StatusCode)).
			WithMetadata(MetaKeyModel, b.model).
			WithMetadata(MetaKeyOutput, truncateForError(string(detail)))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewBackendError(ErrMsgBackendBadResponse, err)
	}
	if len(decoded.Choices) == 0 {
		return nil, NewBackendError(ErrMsgBackendNoChoices, nil)
	}

	choice := decoded.Choices[0]
	return &GenerationResponse{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        decoded.Usage,
	}, nil
}
