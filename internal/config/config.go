// Package config provides configuration loading for pyramidpy-tools.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pyramidpy/pyramidpy-tools/internal/logging"
)

// ErrInvalidConfig indicates missing or invalid configuration. Configuration
// errors are fatal: they are surfaced at construction time and never retried.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultDimensions is the embedding dimensionality used when none is
// configured. Matches OpenAI text-embedding-ada-002 / text-embedding-3-small.
const DefaultDimensions = 1536

// Config is the root configuration for the vector-store subsystem.
type Config struct {
	Logging     logging.Config    `koanf:"logging"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
}

// VectorStoreConfig selects and configures the storage backend.
type VectorStoreConfig struct {
	// Provider selects the backend: "chroma" (embedded, default) or
	// "pgvector" (Postgres with the pgvector extension).
	Provider string `koanf:"provider"`

	// ConnectionURL is the backend connection string. For pgvector this is a
	// postgres:// URL. For chroma it is either an http(s):// endpoint
	// (remote server mode) or a filesystem path (in-process mode).
	ConnectionURL string `koanf:"connection_url"`

	// AuthToken is the bearer token for the chroma remote mode. Ignored by
	// the in-process and pgvector backends.
	AuthToken string `koanf:"auth_token"`

	// Dimensions is the embedding dimensionality for every collection.
	// Must match the embedding provider's output size.
	Dimensions int `koanf:"dimensions"`

	// MaxBatchSize caps how many documents are sent to the backend in a
	// single insert request. Larger batches are chunked transparently.
	MaxBatchSize int `koanf:"max_batch_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is the provider type: "openai" (default) or "tei".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// APIKey is the provider credential. Required for openai.
	APIKey string `koanf:"api_key"`

	// BaseURL overrides the provider endpoint. Required for tei.
	BaseURL string `koanf:"base_url"`

	// BatchSize caps how many texts go into one upstream embedding request.
	BatchSize int `koanf:"batch_size"`
}

// ApplyDefaults sets default values for missing configuration fields.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()

	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "chroma"
	}
	if c.VectorStore.Dimensions == 0 {
		c.VectorStore.Dimensions = DefaultDimensions
	}
	if c.VectorStore.MaxBatchSize == 0 {
		c.VectorStore.MaxBatchSize = 100
	}

	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "openai"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-ada-002"
	}
	if c.Embeddings.BatchSize == 0 {
		c.Embeddings.BatchSize = 100
	}
}

// Validate checks the configuration for fatal problems. It is called after
// ApplyDefaults, so only genuinely missing or contradictory values fail.
func (c *Config) Validate() error {
	if c.VectorStore.ConnectionURL == "" {
		return fmt.Errorf("%w: vectorstore connection URL required", ErrInvalidConfig)
	}

	switch c.VectorStore.Provider {
	case "chroma", "pgvector":
	default:
		return fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chroma, pgvector)",
			ErrInvalidConfig, c.VectorStore.Provider)
	}

	if c.VectorStore.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidConfig, c.VectorStore.Dimensions)
	}
	if c.VectorStore.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max batch size must be positive, got %d", ErrInvalidConfig, c.VectorStore.MaxBatchSize)
	}

	switch c.Embeddings.Provider {
	case "openai":
		if c.Embeddings.APIKey == "" {
			return fmt.Errorf("%w: embeddings API key required for openai provider", ErrInvalidConfig)
		}
	case "tei":
		if c.Embeddings.BaseURL == "" {
			return fmt.Errorf("%w: embeddings base URL required for tei provider", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported embeddings provider %q (supported: openai, tei)",
			ErrInvalidConfig, c.Embeddings.Provider)
	}

	// A dimensionality the provider cannot produce is a configuration error,
	// not something to discover lazily at query time.
	if dim, ok := modelDimensions[c.Embeddings.Model]; ok && dim != c.VectorStore.Dimensions {
		return fmt.Errorf("%w: model %s produces %d-dimension vectors but vectorstore is configured for %d",
			ErrInvalidConfig, c.Embeddings.Model, dim, c.VectorStore.Dimensions)
	}

	return nil
}

// modelDimensions maps known embedding models to their output size.
var modelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// RemoteChroma reports whether the connection URL points at a remote Chroma
// server rather than a local data directory.
func (c VectorStoreConfig) RemoteChroma() bool {
	return strings.HasPrefix(c.ConnectionURL, "http://") || strings.HasPrefix(c.ConnectionURL, "https://")
}
