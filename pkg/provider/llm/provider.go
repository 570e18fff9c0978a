// Package llm defines the Provider interface for Large Language Model backends.
//
// voxtable uses language models for three one-shot capabilities: reading a
// table from a photo, suggesting a guided-entry pipeline, and turning a
// free-form utterance into structured row updates. All three send a single
// request and wait for the complete response, so the interface is a plain
// request/response call rather than a stream.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
)

// ErrVisionUnsupported is returned by providers that cannot accept image
// input when a request carries [Message.Images].
var ErrVisionUnsupported = errors.New("llm: provider does not support image input")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is usually from
	// the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional instruction placed before Messages.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int

	// JSONMode asks the backend to constrain output to a single JSON object
	// where it supports doing so. Prompts must still ask for JSON explicitly.
	JSONMode bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}

// HasImages reports whether any message in req carries an image.
func (req CompletionRequest) HasImages() bool {
	for _, m := range req.Messages {
		if len(m.Images) > 0 {
			return true
		}
	}
	return false
}
