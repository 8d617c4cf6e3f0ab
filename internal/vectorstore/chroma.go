package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromaTracer for OpenTelemetry instrumentation.
var chromaTracer = otel.Tracer("pyramidpy.vectorstore.chroma")

// ChromaConfig holds configuration for the remote embedded backend: a Chroma
// server reached over HTTP with bearer token authentication.
type ChromaConfig struct {
	// URL is the server base URL, e.g. http://localhost:8000.
	URL string

	// AuthToken is the bearer token. Empty disables the Authorization header.
	AuthToken string

	// Dimensions is the expected embedding dimensionality.
	Dimensions int

	// MaxBatchSize caps documents per insert request. Larger Add calls are
	// chunked transparently and still return one ordered ID list.
	MaxBatchSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromaConfig) ApplyDefaults() {
	if c.Dimensions == 0 {
		c.Dimensions = 1536
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 100
	}
}

// Validate validates the configuration.
func (c *ChromaConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: server URL required", ErrInvalidConfig)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromaStore implements Store against a remote Chroma server. The store
// binds the embedder client-side: text is embedded before every upsert and
// query, mirroring how the engine's native clients attach an embedding
// function.
type ChromaStore struct {
	client   *chromaClient
	embedder Embedder
	config   ChromaConfig
	logger   *zap.Logger

	// collectionIDs caches name -> server collection ID.
	collectionIDs sync.Map
}

// NewChromaStore creates a new ChromaStore with the given configuration.
func NewChromaStore(config ChromaConfig, embedder Embedder, logger *zap.Logger) (*ChromaStore, error) {
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

	store := &ChromaStore{
		client:   newChromaClient(config.URL, config.AuthToken),
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("chroma store initialized",
		zap.String("url", config.URL),
		zap.Bool("authenticated", config.AuthToken != ""),
		zap.Int("dimensions", config.Dimensions),
	)

	return store, nil
}

// collectionID resolves a collection name to its server ID, creating the
// collection when absent.
func (s *ChromaStore) collectionID(ctx context.Context, name string) (string, error) {
	if err := ValidateCollectionName(name); err != nil {
		return "", err
	}
	if id, ok := s.collectionIDs.Load(name); ok {
		return id.(string), nil
	}
	col, err := s.client.getOrCreateCollection(ctx, name)
	if err != nil {
		return "", fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	s.collectionIDs.Store(name, col.ID)
	return col.ID, nil
}

// Add upserts documents, embedding missing vectors in one batched provider
// call and chunking the upload to the configured batch size.
func (s *ChromaStore) Add(ctx context.Context, collection string, docs []Document) ([]string, error) {
	ctx, span := chromaTracer.Start(ctx, "ChromaStore.Add")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	colID, err := s.collectionID(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	batch, err := s.prepareBatch(ctx, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, chunk := range chunkBatch(batch, s.config.MaxBatchSize) {
		if err := s.client.upsert(ctx, colID, chunk); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("adding documents to %s: %w", collection, err)
		}
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("added documents to chroma",
		zap.String("collection", collection),
		zap.Int("count", len(batch.IDs)),
	)
	return batch.IDs, nil
}

// prepareBatch assigns missing IDs and embeds missing vectors.
func (s *ChromaStore) prepareBatch(ctx context.Context, docs []Document) (chromaBatch, error) {
	batch := chromaBatch{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Metadatas:  make([]map[string]interface{}, len(docs)),
		Documents:  make([]string, len(docs)),
	}

	var missing []int
	var texts []string
	for i, doc := range docs {
		if doc.Content == "" {
			return chromaBatch{}, fmt.Errorf("%w: document at index %d", ErrEmptyContent, i)
		}
		batch.IDs[i] = doc.ID
		if batch.IDs[i] == "" {
			batch.IDs[i] = uuid.NewString()
		}
		batch.Documents[i] = doc.Content
		batch.Metadatas[i] = doc.Metadata
		batch.Embeddings[i] = doc.Embedding
		if len(doc.Embedding) == 0 {
			missing = append(missing, i)
			texts = append(texts, doc.Content)
		}
	}

	if len(missing) > 0 {
		computed, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return chromaBatch{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		for j, i := range missing {
			batch.Embeddings[i] = computed[j]
		}
	}

	for i := range batch.Embeddings {
		if err := ValidateDimensions(batch.Embeddings[i], s.config.Dimensions); err != nil {
			return chromaBatch{}, fmt.Errorf("document %s: %w", batch.IDs[i], err)
		}
	}

	return batch, nil
}

// chunkBatch splits a batch into column-aligned chunks of at most size rows.
func chunkBatch(batch chromaBatch, size int) []chromaBatch {
	n := len(batch.IDs)
	if size <= 0 || n <= size {
		return []chromaBatch{batch}
	}
	var chunks []chromaBatch
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, chromaBatch{
			IDs:        batch.IDs[start:end],
			Embeddings: batch.Embeddings[start:end],
			Metadatas:  batch.Metadatas[start:end],
			Documents:  batch.Documents[start:end],
		})
	}
	return chunks
}

// Query performs similarity search. Query text is embedded client-side.
func (s *ChromaStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	ctx, span := chromaTracer.Start(ctx, "ChromaStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("n_results", q.Limit()),
	)

	if err := q.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	colID, err := s.collectionID(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	embedding := q.Embedding
	if len(embedding) == 0 {
		embedding, err = s.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
	}
	if err := ValidateDimensions(embedding, s.config.Dimensions); err != nil {
		return nil, err
	}

	resp, err := s.client.query(ctx, colID, chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        q.Limit(),
		Where:           q.Where,
		Include:         []string{"documents", "metadatas", "distances"},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	docs := normalizeChromaResults(resp)
	span.SetAttributes(attribute.Int("results_count", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return docs, nil
}

// normalizeChromaResults maps the server's column-oriented response onto the
// Document model. The server may omit distances; in that shape Distance stays
// unset rather than defaulting to zero.
func normalizeChromaResults(resp *chromaQueryResponse) []Document {
	if len(resp.IDs) == 0 {
		return []Document{}
	}

	ids := resp.IDs[0]
	docs := make([]Document, len(ids))

	var contents []string
	if len(resp.Documents) > 0 {
		contents = resp.Documents[0]
	}
	var metadatas []map[string]interface{}
	if len(resp.Metadatas) > 0 {
		metadatas = resp.Metadatas[0]
	}
	var distances []float32
	if len(resp.Distances) > 0 {
		distances = resp.Distances[0]
	}

	for i, id := range ids {
		docs[i] = Document{ID: id}
		if i < len(contents) {
			docs[i].Content = contents[i]
		}
		if i < len(metadatas) {
			docs[i].Metadata = metadatas[i]
		}
		if i < len(distances) {
			d := distances[i]
			docs[i].Distance = &d
		}
	}
	return docs
}

// Delete removes documents by ID set and/or metadata filter.
func (s *ChromaStore) Delete(ctx context.Context, collection string, ids []string, where map[string]interface{}) error {
	ctx, span := chromaTracer.Start(ctx, "ChromaStore.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 && len(where) == 0 {
		return ErrNoDeleteSelector
	}

	colID, err := s.collectionID(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := s.client.deleteDocuments(ctx, colID, ids, where); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of stored documents.
func (s *ChromaStore) Count(ctx context.Context, collection string) (int, error) {
	colID, err := s.collectionID(ctx, collection)
	if err != nil {
		return 0, err
	}
	n, err := s.client.count(ctx, colID)
	if err != nil {
		return 0, fmt.Errorf("counting collection %s: %w", collection, err)
	}
	return n, nil
}

// Reset destroys and recreates a collection. Never fails for a collection
// that did not previously exist.
func (s *ChromaStore) Reset(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if err := s.client.deleteCollection(ctx, collection); err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return fmt.Errorf("resetting collection %s: %w", collection, err)
	}
	s.collectionIDs.Delete(collection)
	_, err := s.collectionID(ctx, collection)
	return err
}

// ListCollections returns all collection names on the server.
func (s *ChromaStore) ListCollections(ctx context.Context) ([]string, error) {
	cols, err := s.client.listCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names, nil
}

// DeleteCollection removes a collection and all its documents.
func (s *ChromaStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if err := s.client.deleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	s.collectionIDs.Delete(collection)
	s.logger.Info("deleted chroma collection", zap.String("collection", collection))
	return nil
}

// Ok probes the server heartbeat, converting any failure into false.
func (s *ChromaStore) Ok(ctx context.Context) bool {
	return s.client.heartbeat(ctx) == nil
}

// Close is a no-op: the HTTP client holds no persistent connection state
// worth tearing down explicitly.
func (s *ChromaStore) Close() error {
	s.logger.Info("chroma store closed")
	return nil
}

// Ensure ChromaStore implements Store.
var _ Store = (*ChromaStore)(nil)
