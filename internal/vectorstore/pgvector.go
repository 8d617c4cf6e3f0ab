package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/pyramidpy/pyramidpy-tools/internal/pgvec"
)

// pgvectorTracer for OpenTelemetry instrumentation.
var pgvectorTracer = otel.Tracer("pyramidpy.vectorstore.pgvector")

// contentMetadataKey is where document text lives inside the jsonb metadata
// column. The relational schema has no dedicated content column; the text is
// merged into metadata on write and split back out on read.
const contentMetadataKey = "content"

// relationalCollection is the slice of pgvec.Collection the store uses.
// Narrowed to an interface so tests can run against a fake.
type relationalCollection interface {
	Upsert(ctx context.Context, records []pgvec.Record) error
	Query(ctx context.Context, embedding []float32, limit int, filter map[string]interface{}) ([]pgvec.Match, error)
	Delete(ctx context.Context, ids []string, filter map[string]interface{}) error
	Count(ctx context.Context) (int, error)
}

// relationalClient is the slice of pgvec.Client the store uses.
type relationalClient interface {
	GetOrCreateCollection(ctx context.Context, name string, dimensions int) (relationalCollection, error)
	GetCollection(ctx context.Context, name string) (relationalCollection, error)
	ListCollections(ctx context.Context) ([]string, error)
	DropCollection(ctx context.Context, name string) error
	Ping(ctx context.Context) error
	Close()
}

// pgvecAdapter lifts the concrete pgvec.Client onto relationalClient.
type pgvecAdapter struct {
	client *pgvec.Client
}

func (a pgvecAdapter) GetOrCreateCollection(ctx context.Context, name string, dimensions int) (relationalCollection, error) {
	return a.client.GetOrCreateCollection(ctx, name, dimensions)
}

func (a pgvecAdapter) GetCollection(ctx context.Context, name string) (relationalCollection, error) {
	return a.client.GetCollection(ctx, name)
}

func (a pgvecAdapter) ListCollections(ctx context.Context) ([]string, error) {
	return a.client.ListCollections(ctx)
}

func (a pgvecAdapter) DropCollection(ctx context.Context, name string) error {
	return a.client.DropCollection(ctx, name)
}

func (a pgvecAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

func (a pgvecAdapter) Close() {
	a.client.Close()
}

// PgvectorConfig holds configuration for the Postgres backend.
type PgvectorConfig struct {
	// ConnectionURL is the Postgres connection string.
	ConnectionURL string

	// Dimensions is the vector column width for created collections.
	Dimensions int
}

// ApplyDefaults sets default values for unset fields.
func (c *PgvectorConfig) ApplyDefaults() {
	if c.Dimensions == 0 {
		c.Dimensions = 1536
	}
}

// Validate validates the configuration.
func (c *PgvectorConfig) Validate() error {
	if c.ConnectionURL == "" {
		return fmt.Errorf("%w: connection URL required", ErrInvalidConfig)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	return nil
}

// PgvectorStore implements Store on Postgres with the pgvector extension.
// Text is embedded before every write and text query; the database only ever
// sees vectors.
type PgvectorStore struct {
	client   relationalClient
	embedder Embedder
	config   PgvectorConfig
	logger   *zap.Logger
}

// NewPgvectorStore connects to Postgres and prepares the schema.
func NewPgvectorStore(ctx context.Context, config PgvectorConfig, embedder Embedder, logger *zap.Logger) (*PgvectorStore, error) {
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

	client, err := pgvec.Connect(ctx, config.ConnectionURL, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	logger.Info("pgvector store initialized", zap.Int("dimensions", config.Dimensions))
	return &PgvectorStore{
		client:   pgvecAdapter{client: client},
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// newPgvectorStoreWithClient wires an arbitrary client, used by tests.
func newPgvectorStoreWithClient(client relationalClient, embedder Embedder, config PgvectorConfig, logger *zap.Logger) *PgvectorStore {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgvectorStore{client: client, embedder: embedder, config: config, logger: logger}
}

// Add upserts documents. Content is stored inside the metadata column.
func (s *PgvectorStore) Add(ctx context.Context, collection string, docs []Document) ([]string, error) {
	ctx, span := pgvectorTracer.Start(ctx, "PgvectorStore.Add")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	records, ids, err := s.prepareRecords(ctx, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	col, err := s.client.GetOrCreateCollection(ctx, collection, s.config.Dimensions)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := col.Upsert(ctx, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("added documents to pgvector",
		zap.String("collection", collection),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// prepareRecords validates content, assigns IDs, embeds missing vectors in
// one batched call and merges content into the metadata payload.
func (s *PgvectorStore) prepareRecords(ctx context.Context, docs []Document) ([]pgvec.Record, []string, error) {
	records := make([]pgvec.Record, len(docs))
	ids := make([]string, len(docs))

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

		metadata := make(map[string]interface{}, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		metadata[contentMetadataKey] = doc.Content

		records[i] = pgvec.Record{ID: ids[i], Embedding: doc.Embedding, Metadata: metadata}
		if len(doc.Embedding) == 0 {
			missing = append(missing, i)
			texts = append(texts, doc.Content)
		}
	}

	if len(missing) > 0 {
		computed, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		for j, i := range missing {
			records[i].Embedding = computed[j]
		}
	}

	for i := range records {
		if err := ValidateDimensions(records[i].Embedding, s.config.Dimensions); err != nil {
			return nil, nil, fmt.Errorf("document %s: %w", records[i].ID, err)
		}
	}

	return records, ids, nil
}

// Query performs similarity search by cosine distance.
func (s *PgvectorStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	ctx, span := pgvectorTracer.Start(ctx, "PgvectorStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("n_results", q.Limit()),
	)

	if err := q.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	embedding := q.Embedding
	if len(embedding) == 0 {
		var err error
		embedding, err = s.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
	}
	if err := ValidateDimensions(embedding, s.config.Dimensions); err != nil {
		return nil, err
	}

	col, err := s.client.GetOrCreateCollection(ctx, collection, s.config.Dimensions)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	matches, err := col.Query(ctx, embedding, q.Limit(), q.Where)
	if err != nil {
		if errors.Is(err, pgvec.ErrUnsupportedFilter) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFilter, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	docs := make([]Document, len(matches))
	for i, m := range matches {
		docs[i] = matchToDocument(m)
	}

	span.SetAttributes(attribute.Int("results_count", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return docs, nil
}

// matchToDocument splits content back out of the metadata payload.
func matchToDocument(m pgvec.Match) Document {
	distance := m.Distance
	doc := Document{ID: m.ID, Distance: &distance}

	if len(m.Metadata) > 0 {
		metadata := make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			if k == contentMetadataKey {
				if text, ok := v.(string); ok {
					doc.Content = text
					continue
				}
			}
			metadata[k] = v
		}
		if len(metadata) > 0 {
			doc.Metadata = metadata
		}
	}
	return doc
}

// Delete removes documents by ID set and/or metadata filter.
func (s *PgvectorStore) Delete(ctx context.Context, collection string, ids []string, where map[string]interface{}) error {
	ctx, span := pgvectorTracer.Start(ctx, "PgvectorStore.Delete")
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

	col, err := s.client.GetCollection(ctx, collection)
	if err != nil {
		if errors.Is(err, pgvec.ErrCollectionNotFound) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	if err := col.Delete(ctx, ids, where); err != nil {
		if errors.Is(err, pgvec.ErrUnsupportedFilter) {
			return fmt.Errorf("%w: %v", ErrUnsupportedFilter, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of stored documents. A collection that does not
// exist yet counts as empty.
func (s *PgvectorStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	col, err := s.client.GetCollection(ctx, collection)
	if err != nil {
		if errors.Is(err, pgvec.ErrCollectionNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	n, err := col.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n, nil
}

// Reset destroys and recreates a collection.
func (s *PgvectorStore) Reset(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if err := s.client.DropCollection(ctx, collection); err != nil && !errors.Is(err, pgvec.ErrCollectionNotFound) {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if _, err := s.client.GetOrCreateCollection(ctx, collection, s.config.Dimensions); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// ListCollections returns all collection names in the schema.
func (s *PgvectorStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return names, nil
}

// DeleteCollection removes a collection and all its documents.
func (s *PgvectorStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if err := s.client.DropCollection(ctx, collection); err != nil {
		if errors.Is(err, pgvec.ErrCollectionNotFound) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s.logger.Info("deleted pgvector collection", zap.String("collection", collection))
	return nil
}

// Ok probes database connectivity.
func (s *PgvectorStore) Ok(ctx context.Context) bool {
	return s.client.Ping(ctx) == nil
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() error {
	s.client.Close()
	s.logger.Info("pgvector store closed")
	return nil
}

// Ensure PgvectorStore implements Store.
var _ Store = (*PgvectorStore)(nil)
