// Package documents exposes the high-level document store: one facade over a
// configured embedding provider and vector store backend.
package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pyramidpy/pyramidpy-tools/internal/config"
	"github.com/pyramidpy/pyramidpy-tools/internal/embeddings"
	"github.com/pyramidpy/pyramidpy-tools/internal/vectorstore"
)

// Service coordinates embedding generation and vector storage behind a single
// API. Construction is fail-fast: a bad configuration never produces a
// half-working service. The service owns the embedding binding; backends
// receive documents and queries with vectors already attached, so each facade
// call makes at most one provider round trip.
type Service struct {
	store    vectorstore.Store
	embedder vectorstore.Embedder
	config   config.Config
	backend  string
	logger   *zap.Logger
}

// New creates a Service from validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey,
		BaseURL:   cfg.Embeddings.BaseURL,
		BatchSize: cfg.Embeddings.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	store, err := vectorstore.NewStore(ctx, vectorstore.Config{
		Provider:      cfg.VectorStore.Provider,
		ConnectionURL: cfg.VectorStore.ConnectionURL,
		AuthToken:     cfg.VectorStore.AuthToken,
		Dimensions:    cfg.VectorStore.Dimensions,
		MaxBatchSize:  cfg.VectorStore.MaxBatchSize,
	}, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	svc := &Service{
		store:    store,
		embedder: provider,
		config:   *cfg,
		backend:  backendLabel(cfg.VectorStore),
		logger:   logger,
	}

	if !store.Ok(ctx) {
		logger.Warn("vector store backend unreachable at startup",
			zap.String("backend", svc.backend))
	}

	logger.Info("document store initialized",
		zap.String("backend", svc.backend),
		zap.String("embedding_provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
	)
	return svc, nil
}

// NewWithStore wires an existing store and embedder, used by tests.
func NewWithStore(store vectorstore.Store, embedder vectorstore.Embedder, cfg config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		embedder: embedder,
		config:   cfg,
		backend:  backendLabel(cfg.VectorStore),
		logger:   logger,
	}
}

// backendLabel distinguishes the two embedded modes for metrics.
func backendLabel(cfg config.VectorStoreConfig) string {
	if cfg.Provider == vectorstore.ProviderChroma && !cfg.RemoteChroma() {
		return "chromem"
	}
	return cfg.Provider
}

// AddDocuments upserts documents into a collection and returns their IDs in
// input order. IDs are generated (UUID v4) when absent. A vector supplied
// under the reserved "embeddings" metadata key is lifted onto the document
// and stripped from stored metadata. All remaining texts are embedded in one
// batched provider call.
func (s *Service) AddDocuments(ctx context.Context, collection string, docs []vectorstore.Document) (ids []string, err error) {
	start := time.Now()
	defer func() { vectorstore.RecordOperation(s.backend, "add", time.Since(start), err) }()

	if len(docs) == 0 {
		return nil, vectorstore.ErrEmptyDocuments
	}
	if err = vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	prepared := make([]vectorstore.Document, len(docs))
	var missing []int
	var texts []string
	for i, doc := range docs {
		if doc.Content == "" {
			return nil, fmt.Errorf("%w: document at index %d", vectorstore.ErrEmptyContent, i)
		}
		prepared[i] = doc
		if prepared[i].ID == "" {
			prepared[i].ID = uuid.NewString()
		}
		prepared[i].Metadata, prepared[i].Embedding = liftInlineEmbedding(doc.Metadata, doc.Embedding)
		if len(prepared[i].Embedding) == 0 {
			missing = append(missing, i)
			texts = append(texts, prepared[i].Content)
		}
	}

	if len(missing) > 0 {
		var computed [][]float32
		computed, err = s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", vectorstore.ErrEmbeddingFailed, err)
		}
		for j, i := range missing {
			prepared[i].Embedding = computed[j]
		}
	}

	for i := range prepared {
		if err = vectorstore.ValidateDimensions(prepared[i].Embedding, s.config.VectorStore.Dimensions); err != nil {
			return nil, fmt.Errorf("document %s: %w", prepared[i].ID, err)
		}
	}

	ids, err = s.store.Add(ctx, collection, prepared)
	if err != nil {
		return nil, err
	}
	vectorstore.RecordDocumentsWritten(s.backend, len(ids))

	s.logger.Debug("added documents",
		zap.String("collection", collection),
		zap.Int("count", len(ids)),
		zap.Int("embedded", len(missing)),
	)
	return ids, nil
}

// liftInlineEmbedding extracts a vector stored under the reserved metadata
// key. An explicit Document.Embedding wins over the inline form. The returned
// metadata never contains the reserved key.
func liftInlineEmbedding(metadata map[string]interface{}, embedding []float32) (map[string]interface{}, []float32) {
	if metadata == nil {
		return nil, embedding
	}

	inline, present := metadata[vectorstore.MetadataEmbeddingsKey]
	if !present {
		return metadata, embedding
	}

	cleaned := make(map[string]interface{}, len(metadata)-1)
	for k, v := range metadata {
		if k != vectorstore.MetadataEmbeddingsKey {
			cleaned[k] = v
		}
	}
	if len(cleaned) == 0 {
		cleaned = nil
	}

	if len(embedding) > 0 {
		return cleaned, embedding
	}

	switch vec := inline.(type) {
	case []float32:
		return cleaned, vec
	case []float64:
		converted := make([]float32, len(vec))
		for i, v := range vec {
			converted[i] = float32(v)
		}
		return cleaned, converted
	case []interface{}:
		converted := make([]float32, 0, len(vec))
		for _, v := range vec {
			f, ok := v.(float64)
			if !ok {
				return cleaned, embedding
			}
			converted = append(converted, float32(f))
		}
		return cleaned, converted
	default:
		return cleaned, embedding
	}
}

// Query performs similarity search. Query text is embedded with exactly one
// provider call; a supplied embedding takes precedence and skips the provider
// entirely.
func (s *Service) Query(ctx context.Context, collection string, q vectorstore.Query) (docs []vectorstore.Document, err error) {
	start := time.Now()
	defer func() { vectorstore.RecordOperation(s.backend, "query", time.Since(start), err) }()

	if err = q.Validate(); err != nil {
		return nil, err
	}
	if err = vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	if len(q.Embedding) == 0 {
		q.Embedding, err = s.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", vectorstore.ErrEmbeddingFailed, err)
		}
	}
	if err = vectorstore.ValidateDimensions(q.Embedding, s.config.VectorStore.Dimensions); err != nil {
		return nil, err
	}

	docs, err = s.store.Query(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Delete removes documents by ID set, metadata filter, or both. Refusing a
// call with neither selector keeps collection wipes explicit (use Reset).
func (s *Service) Delete(ctx context.Context, collection string, ids []string, where map[string]interface{}) (err error) {
	start := time.Now()
	defer func() { vectorstore.RecordOperation(s.backend, "delete", time.Since(start), err) }()

	if len(ids) == 0 && len(where) == 0 {
		return vectorstore.ErrNoDeleteSelector
	}
	err = s.store.Delete(ctx, collection, ids, where)
	return err
}

// Count returns the number of documents in a collection.
func (s *Service) Count(ctx context.Context, collection string) (int, error) {
	return s.store.Count(ctx, collection)
}

// Reset destroys and recreates a collection.
func (s *Service) Reset(ctx context.Context, collection string) (err error) {
	start := time.Now()
	defer func() { vectorstore.RecordOperation(s.backend, "reset", time.Since(start), err) }()

	err = s.store.Reset(ctx, collection)
	return err
}

// ListCollections returns collection summaries with document counts.
func (s *Service) ListCollections(ctx context.Context) ([]vectorstore.CollectionInfo, error) {
	names, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]vectorstore.CollectionInfo, 0, len(names))
	for _, name := range names {
		count, err := s.store.Count(ctx, name)
		if err != nil {
			// Keep listing usable when one collection misbehaves.
			s.logger.Warn("counting collection failed",
				zap.String("collection", name), zap.Error(err))
			count = -1
		}
		infos = append(infos, vectorstore.CollectionInfo{
			Name:       name,
			Count:      count,
			Dimensions: s.config.VectorStore.Dimensions,
		})
	}
	return infos, nil
}

// DeleteCollection removes a collection. Deleting a collection that does not
// exist is not an error; the end state is the same.
func (s *Service) DeleteCollection(ctx context.Context, collection string) (err error) {
	start := time.Now()
	defer func() { vectorstore.RecordOperation(s.backend, "delete_collection", time.Since(start), err) }()

	err = s.store.DeleteCollection(ctx, collection)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		err = nil
	}
	return err
}

// Ok probes backend connectivity.
func (s *Service) Ok(ctx context.Context) bool {
	healthy := s.store.Ok(ctx)
	vectorstore.RecordHealthStatus(s.backend, healthy)
	return healthy
}

// Close releases backend resources.
func (s *Service) Close() error {
	return s.store.Close()
}
