package vectorstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyramidpy/pyramidpy-tools/internal/pgvec"
)

const pgTestDimensions = 4

// pgTestEmbedder counts calls and returns fixed-size vectors.
type pgTestEmbedder struct {
	documentCalls int
	queryCalls    int
}

func (e *pgTestEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.documentCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, pgTestDimensions)
		out[i][0] = 1
	}
	return out, nil
}

func (e *pgTestEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.queryCalls++
	v := make([]float32, pgTestDimensions)
	v[0] = 1
	return v, nil
}

// fakeRelationalCollection records calls and serves canned matches.
type fakeRelationalCollection struct {
	records  []pgvec.Record
	matches  []pgvec.Match
	queryErr error

	deletedIDs    []string
	deletedFilter map[string]interface{}
	count         int
}

func (c *fakeRelationalCollection) Upsert(ctx context.Context, records []pgvec.Record) error {
	c.records = append(c.records, records...)
	return nil
}

func (c *fakeRelationalCollection) Query(ctx context.Context, embedding []float32, limit int, filter map[string]interface{}) ([]pgvec.Match, error) {
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	if limit < len(c.matches) {
		return c.matches[:limit], nil
	}
	return c.matches, nil
}

func (c *fakeRelationalCollection) Delete(ctx context.Context, ids []string, filter map[string]interface{}) error {
	c.deletedIDs = ids
	c.deletedFilter = filter
	return nil
}

func (c *fakeRelationalCollection) Count(ctx context.Context) (int, error) {
	return c.count, nil
}

// fakeRelationalClient serves collections from a map.
type fakeRelationalClient struct {
	collections map[string]*fakeRelationalCollection
	dropped     []string
	pingErr     error
	closed      bool
}

func newFakeRelationalClient() *fakeRelationalClient {
	return &fakeRelationalClient{collections: make(map[string]*fakeRelationalCollection)}
}

func (f *fakeRelationalClient) GetOrCreateCollection(ctx context.Context, name string, dimensions int) (relationalCollection, error) {
	col, ok := f.collections[name]
	if !ok {
		col = &fakeRelationalCollection{}
		f.collections[name] = col
	}
	return col, nil
}

func (f *fakeRelationalClient) GetCollection(ctx context.Context, name string) (relationalCollection, error) {
	col, ok := f.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pgvec.ErrCollectionNotFound, name)
	}
	return col, nil
}

func (f *fakeRelationalClient) ListCollections(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.collections))
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeRelationalClient) DropCollection(ctx context.Context, name string) error {
	if _, ok := f.collections[name]; !ok {
		return fmt.Errorf("%w: %s", pgvec.ErrCollectionNotFound, name)
	}
	delete(f.collections, name)
	f.dropped = append(f.dropped, name)
	return nil
}

func (f *fakeRelationalClient) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeRelationalClient) Close() {
	f.closed = true
}

func newTestPgvectorStore(client *fakeRelationalClient, embedder Embedder) *PgvectorStore {
	return newPgvectorStoreWithClient(client, embedder, PgvectorConfig{
		ConnectionURL: "postgres://localhost/test",
		Dimensions:    pgTestDimensions,
	}, nil)
}

func TestPgvectorStore_AddMergesContent(t *testing.T) {
	client := newFakeRelationalClient()
	store := newTestPgvectorStore(client, &pgTestEmbedder{})
	ctx := context.Background()

	ids, err := store.Add(ctx, "docs", []Document{
		{Content: "hello world", Metadata: map[string]interface{}{"source": "wiki"}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0])

	col := client.collections["docs"]
	require.Len(t, col.records, 1)
	assert.Equal(t, ids[0], col.records[0].ID)
	assert.Equal(t, "hello world", col.records[0].Metadata["content"])
	assert.Equal(t, "wiki", col.records[0].Metadata["source"])
	assert.Len(t, col.records[0].Embedding, pgTestDimensions)
}

func TestPgvectorStore_AddDoesNotMutateCallerMetadata(t *testing.T) {
	client := newFakeRelationalClient()
	store := newTestPgvectorStore(client, &pgTestEmbedder{})

	metadata := map[string]interface{}{"source": "wiki"}
	_, err := store.Add(context.Background(), "docs", []Document{
		{Content: "hello", Metadata: metadata},
	})
	require.NoError(t, err)
	assert.NotContains(t, metadata, "content")
}

func TestPgvectorStore_AddBatchesEmbeddingCalls(t *testing.T) {
	client := newFakeRelationalClient()
	embedder := &pgTestEmbedder{}
	store := newTestPgvectorStore(client, embedder)

	_, err := store.Add(context.Background(), "docs", []Document{
		{Content: "one"},
		{Content: "two"},
		{Content: "three"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.documentCalls)
}

func TestPgvectorStore_AddValidation(t *testing.T) {
	client := newFakeRelationalClient()
	store := newTestPgvectorStore(client, &pgTestEmbedder{})
	ctx := context.Background()

	_, err := store.Add(ctx, "docs", nil)
	assert.ErrorIs(t, err, ErrEmptyDocuments)

	_, err = store.Add(ctx, "docs", []Document{{Content: ""}})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = store.Add(ctx, "docs", []Document{
		{Content: "wrong", Embedding: make([]float32, pgTestDimensions+1)},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = store.Add(ctx, "Bad Name", []Document{{Content: "x"}})
	assert.ErrorIs(t, err, ErrInvalidCollectionName)
}

func TestPgvectorStore_QuerySplitsContent(t *testing.T) {
	client := newFakeRelationalClient()
	col := &fakeRelationalCollection{
		matches: []pgvec.Match{
			{
				ID:       "a",
				Distance: 0.1,
				Metadata: map[string]interface{}{"content": "hello world", "source": "wiki"},
			},
		},
	}
	client.collections["docs"] = col

	embedder := &pgTestEmbedder{}
	store := newTestPgvectorStore(client, embedder)

	docs, err := store.Query(context.Background(), "docs", Query{Text: "hello"})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "hello world", docs[0].Content)
	assert.Equal(t, map[string]interface{}{"source": "wiki"}, docs[0].Metadata)
	require.NotNil(t, docs[0].Distance)
	assert.InDelta(t, 0.1, *docs[0].Distance, 1e-6)
	assert.Equal(t, 1, embedder.queryCalls)
}

func TestPgvectorStore_QueryValidation(t *testing.T) {
	store := newTestPgvectorStore(newFakeRelationalClient(), &pgTestEmbedder{})

	_, err := store.Query(context.Background(), "docs", Query{})
	assert.ErrorIs(t, err, ErrNoQueryInput)
}

func TestPgvectorStore_QueryUnsupportedFilter(t *testing.T) {
	client := newFakeRelationalClient()
	client.collections["docs"] = &fakeRelationalCollection{
		queryErr: fmt.Errorf("%w: operator %q", pgvec.ErrUnsupportedFilter, "$in"),
	}
	store := newTestPgvectorStore(client, &pgTestEmbedder{})

	_, err := store.Query(context.Background(), "docs", Query{Text: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedFilter)
}

func TestPgvectorStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("no selector", func(t *testing.T) {
		store := newTestPgvectorStore(newFakeRelationalClient(), &pgTestEmbedder{})
		assert.ErrorIs(t, store.Delete(ctx, "docs", nil, nil), ErrNoDeleteSelector)
	})

	t.Run("missing collection", func(t *testing.T) {
		store := newTestPgvectorStore(newFakeRelationalClient(), &pgTestEmbedder{})
		assert.ErrorIs(t, store.Delete(ctx, "docs", []string{"a"}, nil), ErrCollectionNotFound)
	})

	t.Run("passes selectors through", func(t *testing.T) {
		client := newFakeRelationalClient()
		col := &fakeRelationalCollection{}
		client.collections["docs"] = col
		store := newTestPgvectorStore(client, &pgTestEmbedder{})

		filter := map[string]interface{}{"source": "wiki"}
		require.NoError(t, store.Delete(ctx, "docs", []string{"a", "b"}, filter))
		assert.Equal(t, []string{"a", "b"}, col.deletedIDs)
		assert.Equal(t, filter, col.deletedFilter)
	})
}

func TestPgvectorStore_CountMissingCollection(t *testing.T) {
	store := newTestPgvectorStore(newFakeRelationalClient(), &pgTestEmbedder{})

	n, err := store.Count(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPgvectorStore_Reset(t *testing.T) {
	client := newFakeRelationalClient()
	client.collections["docs"] = &fakeRelationalCollection{count: 3}
	store := newTestPgvectorStore(client, &pgTestEmbedder{})
	ctx := context.Background()

	require.NoError(t, store.Reset(ctx, "docs"))
	assert.Equal(t, []string{"docs"}, client.dropped)
	assert.Contains(t, client.collections, "docs")

	// Resetting a collection that never existed succeeds.
	require.NoError(t, store.Reset(ctx, "fresh"))
	assert.Contains(t, client.collections, "fresh")
}

func TestPgvectorStore_DeleteCollection(t *testing.T) {
	client := newFakeRelationalClient()
	client.collections["docs"] = &fakeRelationalCollection{}
	store := newTestPgvectorStore(client, &pgTestEmbedder{})
	ctx := context.Background()

	require.NoError(t, store.DeleteCollection(ctx, "docs"))
	assert.ErrorIs(t, store.DeleteCollection(ctx, "docs"), ErrCollectionNotFound)
}

func TestPgvectorStore_OkAndClose(t *testing.T) {
	client := newFakeRelationalClient()
	store := newTestPgvectorStore(client, &pgTestEmbedder{})

	assert.True(t, store.Ok(context.Background()))

	client.pingErr = fmt.Errorf("connection refused")
	assert.False(t, store.Ok(context.Background()))

	require.NoError(t, store.Close())
	assert.True(t, client.closed)
}
