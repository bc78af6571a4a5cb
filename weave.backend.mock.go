package weave

import (
	"context"
	"fmt"
	"sync"
)

// MockBackend is a deterministic Backend for tests. It answers with a
// response function, a fixed response, or an echo of the prompt, and records
// every request it receives. Safe for concurrent use.
type MockBackend struct {
	mu              sync.Mutex
	responseFn      func(prompt string) (string, error)
	defaultResponse string
	hasDefault      bool
	requests        []*GenerationRequest
}

// MockOption configures a MockBackend.
type MockOption func(*MockBackend)

// WithMockResponseFn sets a function that maps each prompt to its response.
// Returning an error fails that generation call.
func WithMockResponseFn(fn func(prompt string) (string, error)) MockOption {
	return func(m *MockBackend) {
		m.responseFn = fn
	}
}

// WithMockResponse sets a fixed response returned for every prompt.
func WithMockResponse(response string) MockOption {
	return func(m *MockBackend) {
		m.defaultResponse = response
		m.hasDefault = true
	}
}

// NewMockBackend creates a mock backend. Without options it echoes
// "[MOCK: <prompt>]" for every request.
func NewMockBackend(opts ...MockOption) *MockBackend {
	m := &MockBackend{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate records the request and returns the configured response.
func (m *MockBackend) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	responseFn := m.responseFn
	defaultResponse, hasDefault := m.defaultResponse, m.hasDefault
	m.mu.Unlock()

	var text string
	switch {
	case responseFn != nil:
		out, err := responseFn(req.Prompt)
		if err != nil {
			return nil, err
		}
		text = out
	case hasDefault:
		text = defaultResponse
	default:
		text = fmt.Sprintf("[MOCK: %s]", req.Prompt)
	}

	return &GenerationResponse{
		Text:         text,
		FinishReason: "stop",
		Usage: &GenerationUsage{
			PromptTokens:     len(req.Prompt),
			CompletionTokens: len(text),
			TotalTokens:      len(req.Prompt) + len(text),
		},
	}, nil
}

// CallCount returns the number of Generate calls received so far.
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil when none was made.
func (m *MockBackend) LastRequest() *GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// AllRequests returns a copy of every request received, in arrival order.
// Arrival order is not prompt order when calls run concurrently.
func (m *MockBackend) AllRequests() []*GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*GenerationRequest(nil), m.requests...)
}

// Reset clears the recorded requests.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}
