// Package vectorstore defines the backend-neutral contract for
// embedding-indexed document storage and its concrete backends.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist on
	// operations that require existence.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmptyContent indicates a document with no text payload.
	ErrEmptyContent = errors.New("document content cannot be empty")

	// ErrNoQueryInput indicates a query with neither text nor embedding.
	ErrNoQueryInput = errors.New("query requires text or embedding")

	// ErrNoDeleteSelector indicates a delete with neither IDs nor filter.
	// Deleting everything requires an explicit Reset.
	ErrNoDeleteSelector = errors.New("delete requires ids or filter")

	// ErrDimensionMismatch indicates an embedding whose length does not match
	// the configured dimensionality. Rejected before reaching the backend.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrBackend indicates a storage engine failure.
	ErrBackend = errors.New("vector store backend error")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrUnsupportedFilter indicates a metadata filter the backend cannot
	// translate.
	ErrUnsupportedFilter = errors.New("unsupported metadata filter")
)

// Embedder generates vector embeddings from text.
//
// Implementations must preserve input order and batch multiple texts into as
// few upstream calls as possible. No retry policy is assumed at this layer.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns one embedding per input text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the interface every storage backend implements.
//
// Collections are independent namespaces created lazily by the first Add or
// Query against their name (get-or-create, never an error when they already
// exist). Instances perform no internal locking or caching; thread safety is
// delegated to the underlying client.
//
// Implementations:
//   - ChromemStore: embedded chromem-go, in-process (default)
//   - ChromaStore: remote Chroma server over HTTP with bearer auth
//   - PgvectorStore: Postgres with the pgvector extension
type Store interface {
	// Add upserts documents into a collection and returns their IDs in input
	// order. Documents without an embedding are embedded first. An existing
	// ID has its content, metadata and embedding replaced.
	Add(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Query performs similarity search, best match first, truncated to the
	// query's result cap. Distance is populated when the backend reports one.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Delete removes documents by ID set, by metadata filter, or both.
	// Returns ErrNoDeleteSelector when neither is given.
	Delete(ctx context.Context, collection string, ids []string, where map[string]interface{}) error

	// Count returns the number of documents currently stored.
	Count(ctx context.Context, collection string) (int, error)

	// Reset destroys and recreates a collection, discarding all documents.
	// Does not fail when the collection did not previously exist.
	Reset(ctx context.Context, collection string) error

	// ListCollections returns all known collection names for this store.
	ListCollections(ctx context.Context) ([]string, error)

	// DeleteCollection removes a collection and all its documents. Returns
	// ErrCollectionNotFound when it does not exist.
	DeleteCollection(ctx context.Context, collection string) error

	// Ok is a lightweight connectivity probe. It never returns an error;
	// failures are reported as false.
	Ok(ctx context.Context) bool

	// Close releases backend resources.
	Close() error
}

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
// Rejects uppercase, special characters, path traversal and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// ValidateDimensions checks an embedding's length against the configured
// dimensionality. A mismatch is a contract violation surfaced before the
// vector reaches any backend.
func ValidateDimensions(embedding []float32, dimensions int) error {
	if dimensions > 0 && len(embedding) != dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), dimensions)
	}
	return nil
}
