package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Provider identifiers accepted by the factory.
const (
	// ProviderChroma selects the embedded backend. The connection URL decides
	// the mode: http(s) URLs talk to a remote Chroma server, anything else is
	// treated as a local storage path for the in-process engine.
	ProviderChroma = "chroma"

	// ProviderPgvector selects Postgres with the pgvector extension.
	ProviderPgvector = "pgvector"
)

// Config selects and configures a backend.
type Config struct {
	// Provider is the backend identifier, ProviderChroma or ProviderPgvector.
	Provider string

	// ConnectionURL is the backend address: an http(s) URL or storage path for
	// chroma, a Postgres connection string for pgvector.
	ConnectionURL string

	// AuthToken is the bearer token for remote chroma. Ignored otherwise.
	AuthToken string

	// Dimensions is the embedding dimensionality.
	Dimensions int

	// MaxBatchSize caps documents per backend insert call.
	MaxBatchSize int
}

// IsRemote reports whether the connection URL addresses a remote server.
func (c Config) IsRemote() bool {
	return strings.HasPrefix(c.ConnectionURL, "http://") ||
		strings.HasPrefix(c.ConnectionURL, "https://")
}

// NewStore creates the configured Store implementation. Construction is
// fail-fast: an unreachable or misconfigured backend is an error here, not on
// first use.
func NewStore(ctx context.Context, cfg Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case ProviderChroma:
		if cfg.IsRemote() {
			return NewChromaStore(ChromaConfig{
				URL:          cfg.ConnectionURL,
				AuthToken:    cfg.AuthToken,
				Dimensions:   cfg.Dimensions,
				MaxBatchSize: cfg.MaxBatchSize,
			}, embedder, logger)
		}
		return NewChromemStore(ChromemConfig{
			Path:         cfg.ConnectionURL,
			Dimensions:   cfg.Dimensions,
			MaxBatchSize: cfg.MaxBatchSize,
		}, embedder, logger)

	case ProviderPgvector:
		return NewPgvectorStore(ctx, PgvectorConfig{
			ConnectionURL: cfg.ConnectionURL,
			Dimensions:    cfg.Dimensions,
		}, embedder, logger)

	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: %s, %s)",
			ErrInvalidConfig, cfg.Provider, ProviderChroma, ProviderPgvector)
	}
}
