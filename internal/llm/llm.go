// Package llm defines the completion contract the answerer calls to turn
// assembled context into a natural-language answer.
package llm

import "context"

// Request is the pinned completion contract: a system prompt, the user's
// question plus assembled context, and sampling parameters.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Response is the model's completion.
type Response struct {
	Text string
}

// Client completes a single request. Implementations report a
// core.ErrKindAnswer on any failure (timeout, rate limit, content
// rejection).
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
