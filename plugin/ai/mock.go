package ai

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockEmbeddingService is a testify mock for EmbeddingService.
type MockEmbeddingService struct {
	mock.Mock
}

func (m *MockEmbeddingService) Embedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

var _ EmbeddingService = (*MockEmbeddingService)(nil)

// StaticEmbedder returns the same vector for every input. Useful in tests and
// examples that need deterministic embeddings without a provider.
type StaticEmbedder struct {
	Vector []float32
	Err    error
}

func (s *StaticEmbedder) Embedding(ctx context.Context, text string) ([]float32, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Vector, nil
}

var _ EmbeddingService = (*StaticEmbedder)(nil)
