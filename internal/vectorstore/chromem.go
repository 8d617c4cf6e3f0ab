package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("pyramidpy.vectorstore.chromem")

// ChromemConfig holds configuration for the in-process embedded backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Dimensions is the expected embedding dimensionality.
	// Must match the embedder's output.
	Dimensions int

	// MaxBatchSize caps documents per insert batch. Larger Add calls are
	// chunked transparently.
	MaxBatchSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Dimensions == 0 {
		c.Dimensions = 1536
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 100
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: storage path required", ErrInvalidConfig)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database with persistence to gob files. This is the in-process mode
// of the embedded backend: no network, and the store owns the embedding
// function binding used by the engine.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("chromem store initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("dimensions", config.Dimensions),
	)

	return store, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder to chromem's per-text embedding binding.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// getOrCreateCollection gets or creates a collection with the embedding
// function bound. Creating an existing collection is a no-op.
func (s *ChromemStore) getOrCreateCollection(name string) (*chromem.Collection, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	collection, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("%w: getting/creating collection %s: %v", ErrBackend, name, err)
	}
	return collection, nil
}

// Add upserts documents, embedding the ones without a precomputed vector in a
// single batched provider call. Returns IDs in input order.
func (s *ChromemStore) Add(ctx context.Context, collection string, docs []Document) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Add")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ids, chromemDocs, err := s.prepareDocuments(ctx, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// chromem has no hard batch limit, but inserts are chunked anyway so the
	// backends behave uniformly under large Add calls.
	for _, chunk := range chunkSlice(chromemDocs, s.config.MaxBatchSize) {
		// Concurrency of 1: embeddings are already attached.
		if err := col.AddDocuments(ctx, chunk, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: adding documents to %s: %v", ErrBackend, collection, err)
		}
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("added documents to chromem",
		zap.String("collection", collection),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// prepareDocuments assigns missing IDs, batch-embeds missing vectors and
// converts to chromem's document shape.
func (s *ChromemStore) prepareDocuments(ctx context.Context, docs []Document) ([]string, []chromem.Document, error) {
	ids := make([]string, len(docs))
	chromemDocs := make([]chromem.Document, len(docs))

	var missing []int
	var texts []string
	for i, doc := range docs {
		if doc.Content == "" {
			return nil, nil, fmt.Errorf("%w: document at index %d", ErrEmptyContent, i)
		}
		ids[i] = doc.ID
		if ids[i] == "" {
			ids[i] = uuid.NewString()
		}
		if len(doc.Embedding) == 0 {
			missing = append(missing, i)
			texts = append(texts, doc.Content)
		}
	}

	embeddings := make([][]float32, len(docs))
	for i, doc := range docs {
		embeddings[i] = doc.Embedding
	}
	if len(missing) > 0 {
		computed, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		for j, i := range missing {
			embeddings[i] = computed[j]
		}
	}

	for i, doc := range docs {
		if err := ValidateDimensions(embeddings[i], s.config.Dimensions); err != nil {
			return nil, nil, fmt.Errorf("document %s: %w", ids[i], err)
		}
		chromemDocs[i] = chromem.Document{
			ID:        ids[i],
			Content:   doc.Content,
			Metadata:  metadataToStrings(doc.Metadata),
			Embedding: embeddings[i],
		}
	}

	return ids, chromemDocs, nil
}

// Query performs similarity search. The collection is created lazily, so a
// query against an unknown name returns no results rather than an error.
func (s *ChromemStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("n_results", q.Limit()),
	)

	if err := q.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Filter validation happens before the empty-collection short-circuit so
	// an unsupported filter surfaces the same error regardless of count.
	where, err := filterToStrings(q.Where)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// chromem requires nResults <= document count.
	k := q.Limit()
	docCount := col.Count()
	if docCount == 0 {
		return []Document{}, nil
	}
	if k > docCount {
		k = docCount
	}

	var results []chromem.Result
	if len(q.Embedding) > 0 {
		if err := ValidateDimensions(q.Embedding, s.config.Dimensions); err != nil {
			return nil, err
		}
		results, err = col.QueryEmbedding(ctx, q.Embedding, k, where, nil)
	} else {
		results, err = col.Query(ctx, q.Text, k, where, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying collection %s: %v", ErrBackend, collection, err)
	}

	docs := make([]Document, len(results))
	for i, r := range results {
		// chromem reports cosine similarity (higher is better); normalize to
		// a distance so lower always means more similar across backends.
		distance := 1 - r.Similarity
		docs[i] = Document{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: metadataFromStrings(r.Metadata),
			Distance: &distance,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return docs, nil
}

// Delete removes documents by ID set and/or metadata filter.
func (s *ChromemStore) Delete(ctx context.Context, collection string, ids []string, where map[string]interface{}) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 && len(where) == 0 {
		return ErrNoDeleteSelector
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		span.SetStatus(codes.Error, "collection not found")
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	whereStrings, err := filterToStrings(where)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, whereStrings, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting from %s: %v", ErrBackend, collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("deleted documents from chromem",
		zap.String("collection", collection),
		zap.Int("ids", len(ids)),
	)
	return nil
}

// Count returns the number of stored documents. Unknown collections count as
// empty, consistent with lazy creation.
func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Reset destroys and recreates a collection. Never fails for a collection
// that did not previously exist.
func (s *ChromemStore) Reset(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if col := s.db.GetCollection(collection, s.embeddingFunc()); col != nil {
		if err := s.db.DeleteCollection(collection); err != nil {
			return fmt.Errorf("%w: resetting collection %s: %v", ErrBackend, collection, err)
		}
	}
	_, err := s.getOrCreateCollection(collection)
	return err
}

// ListCollections returns all known collection names.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	return names, nil
}

// DeleteCollection removes a collection and all its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if col := s.db.GetCollection(collection, s.embeddingFunc()); col == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("%w: deleting collection %s: %v", ErrBackend, collection, err)
	}
	s.logger.Info("deleted chromem collection", zap.String("collection", collection))
	return nil
}

// Ok reports connectivity. The in-process engine is healthy whenever the DB
// handle exists.
func (s *ChromemStore) Ok(ctx context.Context) bool {
	return s.db != nil
}

// Close is a no-op: chromem persists on every write.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// metadataToStrings converts metadata to chromem's string map.
func metadataToStrings(metadata map[string]interface{}) map[string]string {
	if metadata == nil {
		return nil
	}
	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = fmt.Sprintf("%d", val)
		case int64:
			result[k] = fmt.Sprintf("%d", val)
		case float64:
			result[k] = fmt.Sprintf("%v", val)
		case bool:
			result[k] = fmt.Sprintf("%t", val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// filterToStrings converts a metadata filter to chromem's string-equality
// shape. Operator maps (range filters) are not supported by the in-process
// engine.
func filterToStrings(where map[string]interface{}) (map[string]string, error) {
	if where == nil {
		return nil, nil
	}
	result := make(map[string]string, len(where))
	for k, v := range where {
		if _, ok := v.(map[string]interface{}); ok {
			return nil, fmt.Errorf("%w: operator filter on %q not supported by the in-process backend", ErrUnsupportedFilter, k)
		}
		result[k] = fmt.Sprintf("%v", v)
	}
	return result, nil
}

// metadataFromStrings converts chromem's string map back to metadata.
func metadataFromStrings(metadata map[string]string) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	result := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}

// chunkSlice splits items into chunks of at most size elements.
func chunkSlice[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) <= size {
		return [][]T{items}
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
