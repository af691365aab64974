// Package llm wraps the language-model provider behind a small client
// interface and owns prompt management and response parsing.
package llm

import "context"

// Request is one generation call. An empty Model uses the client default.
type Request struct {
	Model           string
	System          string
	Prompt          string
	JSON            bool
	MaxOutputTokens int32
}

// Usage carries the token accounting of one call, read from the provider's
// usage metadata. The controller aggregates it against the session ceiling.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Client is a single-shot text generation client.
type Client interface {
	Generate(ctx context.Context, req Request) (string, Usage, error)
}
