// Package embeddings generates vector embeddings via langchaingo.
//
// It wraps an OpenAI-compatible embedding API (OpenAI itself or a local
// TEI server) and verifies output dimensionality against the configured
// vector index.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates the provider returned an error or a
	// vector of unexpected dimensionality.
	ErrEmbeddingFailed = errors.New("embedding failed")
)

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the base URL for the embedding API.
	// For OpenAI: https://api.openai.com/v1
	// For TEI: http://localhost:8080/v1
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey is the API key. Required for OpenAI, optional for TEI.
	APIKey string

	// Dimensions is the expected embedding dimensionality. Vectors of
	// any other size are rejected rather than passed to the index.
	Dimensions int

	// MaxRetries is the number of retries for provider failures.
	MaxRetries int

	// BaseBackoff is the initial retry backoff, doubled per attempt.
	BaseBackoff time.Duration
}

// ApplyDefaults fills in default values for unset retry fields.
func (c *Config) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	return nil
}

// Service generates embeddings through an OpenAI-compatible API.
type Service struct {
	embedder embeddings.Embedder
	config   Config
}

// NewService creates an embedding service with the given configuration.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	config.ApplyDefaults()

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token, use placeholder for TEI.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithEmbeddingModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Service{
		embedder: embedder,
		config:   config,
	}, nil
}

// Dimensions returns the configured embedding dimensionality.
func (s *Service) Dimensions() int {
	return s.config.Dimensions
}

// EmbedQuery generates a single embedding for a query string.
//
// The text is trimmed before embedding. Empty input and dimension
// mismatches return ErrEmbeddingFailed wrapped errors so callers can
// distinguish caller faults from provider faults.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: query text cannot be empty", ErrEmptyInput)
	}

	var vector []float32
	err := s.retry(ctx, func() error {
		v, err := s.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := s.checkDimensions(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

// EmbedDocuments generates embeddings for the given texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	var vectors [][]float32
	err := s.retry(ctx, func() error {
		vs, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		vectors = vs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	for _, v := range vectors {
		if err := s.checkDimensions(v); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// retry runs op with bounded exponential backoff. Provider failures are
// treated as transient; context cancellation stops retrying immediately.
func (s *Service) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.config.BaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (s *Service) checkDimensions(vector []float32) error {
	if len(vector) != s.config.Dimensions {
		return fmt.Errorf("%w: got %d dimensions, expected %d",
			ErrEmbeddingFailed, len(vector), s.config.Dimensions)
	}
	return nil
}
