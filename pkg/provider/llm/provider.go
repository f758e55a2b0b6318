// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote model API (e.g., OpenAI) and exposes a
// uniform interface for the dialogue core to perform completions without
// coupling to any specific SDK. The intent extractor relies on JSONObject
// mode to force well-formed structured output.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/voxline/frontdesk/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation history.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0]. The
	// extractor uses low values for deterministic structured output.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// JSONObject, when true, instructs the model to emit a single valid JSON
	// object and nothing else. Providers that support a native JSON response
	// format must enable it.
	JSONObject bool
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	// Content is the model's text output.
	Content string

	// Usage is the token accounting for this request.
	Usage Usage
}

// Chunk is a single fragment of a streamed completion.
type Chunk struct {
	// Text is the incremental text delta. May be empty on the final chunk.
	Text string

	// FinishReason is non-empty on the last chunk ("stop", "length",
	// "error"). On "error" Text carries the error message.
	FinishReason string
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete performs a blocking completion and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion starts a streaming completion. The returned channel
	// yields chunks in order and is closed when the stream ends or ctx is
	// cancelled.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
