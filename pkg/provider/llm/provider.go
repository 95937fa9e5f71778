// Package llm defines the Provider interface for the pipeline's AI oracle.
//
// An oracle provider wraps a remote or local model API (e.g., OpenAI GPT-4o or
// a local Ollama instance) and exposes a uniform interface for the analysis
// orchestrator and the content generator to perform completions, count tokens,
// and inspect model capabilities without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use: the pipeline dispatches
// cluster analyses from a bounded worker pool against a single shared Provider.
package llm

import (
	"context"

	"github.com/hollowvale/dreadhex/pkg/types"
)

// Usage holds token accounting information returned by the oracle backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt. This value directly affects the pipeline's token budget
	// accounting.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the oracle needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. For pipeline use this is almost
	// always a single "user" message carrying the composed prompt.
	Messages []types.Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system slot should
	// prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. The
	// pipeline uses low values — analysis and generation must be repeatable
	// enough to validate against a schema.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// ForceJSON requests that the model emit a single valid JSON document.
	// Providers that do not support a native JSON mode may ignore this; the
	// caller always validates the response regardless.
	ForceJSON bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any oracle backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must propagate context cancellation promptly: when ctx is cancelled the
// method must return as quickly as possible.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens the given message list would
	// consume in the model's context window. Used by the orchestrator to
	// enforce the prompt budget before sending a request.
	//
	// Implementations may call the provider's tokenisation API or perform a
	// local approximation. The result need not be exact but should not
	// undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports. The result is assumed to be constant for the
	// lifetime of the Provider instance.
	Capabilities() types.ModelCapabilities
}
