package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Config holds the embedding provider configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	// Dimensions is the expected vector dimensionality; responses of any
	// other size are rejected.
	Dimensions int
	MaxRetries int
	Timeout    time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.openai.com/v1",
		APIKey:         "",
		EmbeddingModel: "text-embedding-3-small",
		Dimensions:     1536,
		MaxRetries:     3,
		Timeout:        30 * time.Second,
	}
}

// Provider provides embeddings through an OpenAI-compatible API.
type Provider struct {
	client *openai.Client
	config *Config

	backoffBase time.Duration
}

// NewProvider creates a new embedding provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:      openai.NewClientWithConfig(clientConfig),
		config:      cfg,
		backoffBase: time.Second,
	}, nil
}

// Embedding generates an embedding vector for the given text.
func (p *Provider) Embedding(ctx context.Context, text string) ([]float32, error) {
	// Newlines degrade some embedding models.
	text = strings.ReplaceAll(text, "\n", " ")

	var result []float32
	err := p.doWithRetry(ctx, func(ctx context.Context) error {
		req := openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(p.config.EmbeddingModel),
		}

		resp, err := p.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return permanent(fmt.Errorf("empty embedding response"))
		}
		if len(resp.Data[0].Embedding) != p.config.Dimensions {
			return permanent(fmt.Errorf("unexpected embedding dimensionality: got %d, want %d",
				len(resp.Data[0].Embedding), p.config.Dimensions))
		}
		result = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	return result, nil
}

// Validate validates the provider configuration by testing API connectivity.
func (p *Provider) Validate(ctx context.Context) error {
	if p.config.APIKey == "" {
		return fmt.Errorf("API key is required, set MEMLAYER_AI_API_KEY environment variable")
	}

	if _, err := p.Embedding(ctx, "test"); err != nil {
		return fmt.Errorf("embedding validation failed: %w", err)
	}

	slog.Info("embedding provider validated successfully",
		"embedding_model", p.config.EmbeddingModel,
		"dimensions", p.config.Dimensions)

	return nil
}

// permanentError marks a failure that a fresh attempt cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// retryable reports whether err may succeed on another attempt. Response
// validation failures and 4xx API statuses other than 429 are permanent.
func retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return true
}

// doWithRetry executes a function with exponential backoff retry, failing
// fast on permanent errors. Each attempt gets its own timeout derived from
// the caller's context.
func (p *Provider) doWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoffBase := p.backoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * backoffBase
			slog.Debug("retrying embedding request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

var _ EmbeddingService = (*Provider)(nil)
