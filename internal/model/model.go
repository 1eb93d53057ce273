package model

import (
	"context"

	"github.com/stupiduntilnot/aonbot/internal/conversation"
)

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider turns an ordered turn sequence into the next assistant reply.
// Implementations make a single attempt and return one of the typed errors
// in this package on failure.
type Provider interface {
	ChatCompletion(ctx context.Context, turns []conversation.Turn) (CompletionResponse, error)
}
