// Package types defines the shared types used across all Dreadhex packages.
//
// These types form the lingua franca between the oracle providers, the analysis
// orchestrator, and the content generator. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

// Message is a single entry in a prompt conversation sent to an oracle.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the full text of the message.
	Content string
}

// ModelCapabilities describes static metadata about an oracle's underlying model.
type ModelCapabilities struct {
	// ContextWindow is the maximum number of prompt + completion tokens the
	// model accepts in a single request.
	ContextWindow int

	// MaxOutputTokens is the maximum number of completion tokens the model
	// can generate per request.
	MaxOutputTokens int

	// SupportsJSONMode reports whether the model can be forced into emitting
	// syntactically valid JSON.
	SupportsJSONMode bool
}
