// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pyramidpy/pyramidpy-tools/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "openai" or "tei"
	Provider string
	// Model is the embedding model name
	Model string
	// APIKey is the API key (required for OpenAI)
	APIKey string
	// BaseURL overrides the API endpoint. Required for TEI, optional for
	// OpenAI-compatible gateways.
	BaseURL string
	// BatchSize caps texts per upstream request
	BatchSize int
}

// modelDimensions maps known model names to their embedding dimensions.
var modelDimensions = map[string]int{
	"text-embedding-ada-002":         1536,
	"text-embedding-3-small":         1536,
	"text-embedding-3-large":         3072,
	"BAAI/bge-small-en-v1.5":         384,
	"BAAI/bge-base-en-v1.5":          768,
	"BAAI/bge-large-en-v1.5":         1024,
	"all-MiniLM-L6-v2":               384,
	"nomic-ai/nomic-embed-text-v1.5": 768,
}

// detectDimension returns the embedding dimension for a model name, falling
// back to name patterns and finally to 1536 for unknown models.
func detectDimension(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "small"), strings.Contains(model, "mini"):
		return 384
	default:
		return 1536
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			BatchSize: cfg.BatchSize,
		})
	case "tei":
		return NewTEIProvider(TEIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
