// Package ai provides the embedding provider used to turn memory content and
// retrieval queries into vectors.
package ai

import (
	"context"

	"github.com/pkg/errors"
)

// EmbeddingService converts text into a fixed-dimension vector.
// Any failure, timeout, or empty vector is treated uniformly by callers as
// "no embedding available".
type EmbeddingService interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
}

// Disabled is the embedder used when no provider is configured. Every call
// fails, which pushes consolidation into its degraded path and makes
// retrieval unavailable.
type Disabled struct{}

func (Disabled) Embedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding provider not configured")
}

var _ EmbeddingService = Disabled{}
