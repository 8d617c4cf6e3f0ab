package documents_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyramidpy/pyramidpy-tools/internal/config"
	"github.com/pyramidpy/pyramidpy-tools/internal/documents"
	"github.com/pyramidpy/pyramidpy-tools/internal/vectorstore"
)

const testDimensions = 4

// mockEmbedder counts calls and returns fixed-size vectors.
type mockEmbedder struct {
	documentCalls int
	queryCalls    int
}

func (e *mockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.documentCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (e *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.queryCalls++
	return []float32{1, 0, 0, 0}, nil
}

// mockStore records calls and serves canned responses.
type mockStore struct {
	addedDocs    []vectorstore.Document
	lastQuery    vectorstore.Query
	deletedIDs   []string
	deletedCols  []string
	queryDocs    []vectorstore.Document
	listNames    []string
	counts       map[string]int
	deleteColErr error
	healthy      bool
	closed       bool
}

func newMockStore() *mockStore {
	return &mockStore{counts: make(map[string]int), healthy: true}
}

func (m *mockStore) Add(ctx context.Context, collection string, docs []vectorstore.Document) ([]string, error) {
	m.addedDocs = append(m.addedDocs, docs...)
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

func (m *mockStore) Query(ctx context.Context, collection string, q vectorstore.Query) ([]vectorstore.Document, error) {
	m.lastQuery = q
	return m.queryDocs, nil
}

func (m *mockStore) Delete(ctx context.Context, collection string, ids []string, where map[string]interface{}) error {
	m.deletedIDs = append(m.deletedIDs, ids...)
	return nil
}

func (m *mockStore) Count(ctx context.Context, collection string) (int, error) {
	return m.counts[collection], nil
}

func (m *mockStore) Reset(ctx context.Context, collection string) error {
	return nil
}

func (m *mockStore) ListCollections(ctx context.Context) ([]string, error) {
	return m.listNames, nil
}

func (m *mockStore) DeleteCollection(ctx context.Context, collection string) error {
	if m.deleteColErr != nil {
		return m.deleteColErr
	}
	m.deletedCols = append(m.deletedCols, collection)
	return nil
}

func (m *mockStore) Ok(ctx context.Context) bool {
	return m.healthy
}

func (m *mockStore) Close() error {
	m.closed = true
	return nil
}

func newTestService(store vectorstore.Store, embedder vectorstore.Embedder) *documents.Service {
	cfg := config.Config{
		VectorStore: config.VectorStoreConfig{
			Provider:      "chroma",
			ConnectionURL: "/tmp/vectors",
			Dimensions:    testDimensions,
		},
	}
	return documents.NewWithStore(store, embedder, cfg, nil)
}

func TestNew_FailsFastOnInvalidConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	// No connection URL configured.
	_, err := documents.New(context.Background(), cfg, nil)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestService_AddDocuments(t *testing.T) {
	store := newMockStore()
	embedder := &mockEmbedder{}
	svc := newTestService(store, embedder)
	ctx := context.Background()

	ids, err := svc.AddDocuments(ctx, "docs", []vectorstore.Document{
		{Content: "first"},
		{Content: "second"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])

	// One batched provider call for both missing vectors.
	assert.Equal(t, 1, embedder.documentCalls)

	require.Len(t, store.addedDocs, 2)
	for _, doc := range store.addedDocs {
		assert.Len(t, doc.Embedding, testDimensions)
	}
}

func TestService_AddDocumentsLiftsInlineEmbedding(t *testing.T) {
	store := newMockStore()
	embedder := &mockEmbedder{}
	svc := newTestService(store, embedder)

	// JSON-decoded metadata carries numbers as float64.
	inline := []interface{}{float64(0.5), float64(0.5), float64(0.5), float64(0.5)}
	_, err := svc.AddDocuments(context.Background(), "docs", []vectorstore.Document{
		{
			Content: "inline",
			Metadata: map[string]interface{}{
				"embeddings": inline,
				"source":     "import",
			},
		},
	})
	require.NoError(t, err)

	// The inline vector is used; no provider call is made.
	assert.Equal(t, 0, embedder.documentCalls)

	require.Len(t, store.addedDocs, 1)
	stored := store.addedDocs[0]
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, stored.Embedding)
	assert.Equal(t, map[string]interface{}{"source": "import"}, stored.Metadata)
	assert.NotContains(t, stored.Metadata, vectorstore.MetadataEmbeddingsKey)
}

func TestService_AddDocumentsExplicitEmbeddingWins(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, &mockEmbedder{})

	explicit := []float32{1, 0, 0, 0}
	_, err := svc.AddDocuments(context.Background(), "docs", []vectorstore.Document{
		{
			Content:   "both",
			Embedding: explicit,
			Metadata: map[string]interface{}{
				"embeddings": []interface{}{float64(9), float64(9), float64(9), float64(9)},
			},
		},
	})
	require.NoError(t, err)

	require.Len(t, store.addedDocs, 1)
	assert.Equal(t, explicit, store.addedDocs[0].Embedding)
	assert.NotContains(t, store.addedDocs[0].Metadata, vectorstore.MetadataEmbeddingsKey)
}

func TestService_AddDocumentsValidation(t *testing.T) {
	svc := newTestService(newMockStore(), &mockEmbedder{})
	ctx := context.Background()

	_, err := svc.AddDocuments(ctx, "docs", nil)
	assert.ErrorIs(t, err, vectorstore.ErrEmptyDocuments)

	_, err = svc.AddDocuments(ctx, "docs", []vectorstore.Document{{Content: ""}})
	assert.ErrorIs(t, err, vectorstore.ErrEmptyContent)

	_, err = svc.AddDocuments(ctx, "Bad Name", []vectorstore.Document{{Content: "x"}})
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)

	_, err = svc.AddDocuments(ctx, "docs", []vectorstore.Document{
		{Content: "wrong", Embedding: make([]float32, testDimensions+1)},
	})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestService_QueryEmbedsTextOnce(t *testing.T) {
	store := newMockStore()
	embedder := &mockEmbedder{}
	svc := newTestService(store, embedder)

	_, err := svc.Query(context.Background(), "docs", vectorstore.Query{Text: "find me"})
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.queryCalls)
	assert.Len(t, store.lastQuery.Embedding, testDimensions)
}

func TestService_QueryEmbeddingPrecedence(t *testing.T) {
	store := newMockStore()
	embedder := &mockEmbedder{}
	svc := newTestService(store, embedder)

	given := []float32{0, 1, 0, 0}
	_, err := svc.Query(context.Background(), "docs", vectorstore.Query{
		Text:      "ignored",
		Embedding: given,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, embedder.queryCalls)
	assert.Equal(t, given, store.lastQuery.Embedding)
}

func TestService_QueryValidation(t *testing.T) {
	svc := newTestService(newMockStore(), &mockEmbedder{})

	_, err := svc.Query(context.Background(), "docs", vectorstore.Query{})
	assert.ErrorIs(t, err, vectorstore.ErrNoQueryInput)

	_, err = svc.Query(context.Background(), "docs", vectorstore.Query{
		Embedding: make([]float32, testDimensions+1),
	})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestService_Delete(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, &mockEmbedder{})
	ctx := context.Background()

	err := svc.Delete(ctx, "docs", nil, nil)
	assert.ErrorIs(t, err, vectorstore.ErrNoDeleteSelector)
	assert.Empty(t, store.deletedIDs)

	require.NoError(t, svc.Delete(ctx, "docs", []string{"a"}, nil))
	assert.Equal(t, []string{"a"}, store.deletedIDs)
}

func TestService_DeleteCollectionSwallowsNotFound(t *testing.T) {
	store := newMockStore()
	store.deleteColErr = fmt.Errorf("wrapped: %w", vectorstore.ErrCollectionNotFound)
	svc := newTestService(store, &mockEmbedder{})

	assert.NoError(t, svc.DeleteCollection(context.Background(), "missing"))

	store.deleteColErr = fmt.Errorf("%w: disk failure", vectorstore.ErrBackend)
	assert.ErrorIs(t, svc.DeleteCollection(context.Background(), "docs"), vectorstore.ErrBackend)
}

func TestService_ListCollections(t *testing.T) {
	store := newMockStore()
	store.listNames = []string{"alpha", "beta"}
	store.counts["alpha"] = 3
	store.counts["beta"] = 0
	svc := newTestService(store, &mockEmbedder{})

	infos, err := svc.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, 3, infos[0].Count)
	assert.Equal(t, testDimensions, infos[0].Dimensions)
	assert.Equal(t, 0, infos[1].Count)
}

func TestService_OkAndClose(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, &mockEmbedder{})

	assert.True(t, svc.Ok(context.Background()))
	store.healthy = false
	assert.False(t, svc.Ok(context.Background()))

	require.NoError(t, svc.Close())
	assert.True(t, store.closed)
}
