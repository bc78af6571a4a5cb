package weave

import "context"

// GenerationParams is the per-call parameter bag for one gen() expression.
// It has a fixed, enumerated set of optional fields; pointer types
// distinguish unset from zero so the backend's own defaults apply when a
// field is absent.
type GenerationParams struct {
	// MaxTokens limits the response length.
	MaxTokens *int
	// Temperature controls randomness.
	Temperature *float64
	// Stop sequences that halt generation.
	Stop []string
	// Filter is an explicit escaping filter for this call. A filter in the
	// template pipeline takes precedence over this field.
	Filter string
}

// Clone returns a deep copy of the parameters.
func (p *GenerationParams) Clone() *GenerationParams {
	if p == nil {
		return nil
	}
	out := &GenerationParams{Filter: p.Filter}
	if p.MaxTokens != nil {
		v := *p.MaxTokens
		out.MaxTokens = &v
	}
	if p.Temperature != nil {
		v := *p.Temperature
		out.Temperature = &v
	}
	if len(p.Stop) > 0 {
		out.Stop = append([]string(nil), p.Stop...)
	}
	return out
}

// GenerationRequest is one request for backend text generation.
type GenerationRequest struct {
	// Prompt is the fully interpolated prompt text.
	Prompt string
	// MaxTokens limits the response length (nil uses the backend default).
	MaxTokens *int
	// Temperature controls randomness (nil uses the backend default).
	Temperature *float64
	// Stop sequences halt generation.
	Stop []string
}

// GenerationUsage reports token accounting for one generation, when the
// backend provides it.
type GenerationUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResponse is the backend's answer to one GenerationRequest.
type GenerationResponse struct {
	// Text is the generated content, unescaped.
	Text string
	// FinishReason is the provider's stop reason, if reported.
	FinishReason string
	// Usage is token accounting, if reported.
	Usage *GenerationUsage
}

// Backend produces text for prompts. Implementations must be safe for
// concurrent calls: every pending generation call of a render is dispatched
// in parallel against the same Backend. Transport, authentication, provider
// selection and any retry or rate-limit behavior are the backend's concern.
type Backend interface {
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error)
}
