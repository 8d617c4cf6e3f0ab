package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// chromaClient is a minimal client for the Chroma REST v1 API with bearer
// token authentication. Only the endpoints the store needs are implemented.
type chromaClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newChromaClient(baseURL, token string) *chromaClient {
	return &chromaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// do executes a request and decodes the JSON response into out (when non-nil).
func (c *chromaClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrCollectionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// chromaCollection is the server's collection descriptor.
type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// heartbeat probes server liveness.
func (c *chromaClient) heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil)
}

// getOrCreateCollection returns the collection, creating it when absent.
func (c *chromaClient) getOrCreateCollection(ctx context.Context, name string) (*chromaCollection, error) {
	body := map[string]interface{}{
		"name":          name,
		"get_or_create": true,
	}
	var col chromaCollection
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections", body, &col); err != nil {
		return nil, err
	}
	return &col, nil
}

// listCollections returns all collections.
func (c *chromaClient) listCollections(ctx context.Context) ([]chromaCollection, error) {
	var cols []chromaCollection
	if err := c.do(ctx, http.MethodGet, "/api/v1/collections", nil, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// deleteCollection removes a collection by name.
func (c *chromaClient) deleteCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/collections/"+name, nil, nil)
}

// chromaBatch is the payload for add/upsert requests.
type chromaBatch struct {
	IDs        []string                 `json:"ids"`
	Embeddings [][]float32              `json:"embeddings"`
	Metadatas  []map[string]interface{} `json:"metadatas"`
	Documents  []string                 `json:"documents"`
}

// upsert inserts or replaces records by ID.
func (c *chromaClient) upsert(ctx context.Context, collectionID string, batch chromaBatch) error {
	return c.do(ctx, http.MethodPost, "/api/v1/collections/"+collectionID+"/upsert", batch, nil)
}

// chromaQueryRequest is the payload for query requests.
type chromaQueryRequest struct {
	QueryEmbeddings [][]float32            `json:"query_embeddings"`
	NResults        int                    `json:"n_results"`
	Where           map[string]interface{} `json:"where,omitempty"`
	Include         []string               `json:"include"`
}

// chromaQueryResponse is the query result, one inner slice per query vector.
// Distances may be absent depending on what the server was asked to include.
type chromaQueryResponse struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]string                 `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float32                `json:"distances"`
}

// query runs a similarity search against a collection.
func (c *chromaClient) query(ctx context.Context, collectionID string, req chromaQueryRequest) (*chromaQueryResponse, error) {
	var resp chromaQueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+collectionID+"/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// deleteDocuments removes documents by ID set and/or metadata filter.
func (c *chromaClient) deleteDocuments(ctx context.Context, collectionID string, ids []string, where map[string]interface{}) error {
	body := map[string]interface{}{}
	if len(ids) > 0 {
		body["ids"] = ids
	}
	if len(where) > 0 {
		body["where"] = where
	}
	return c.do(ctx, http.MethodPost, "/api/v1/collections/"+collectionID+"/delete", body, nil)
}

// count returns the number of documents in a collection.
func (c *chromaClient) count(ctx context.Context, collectionID string) (int, error) {
	var n int
	if err := c.do(ctx, http.MethodGet, "/api/v1/collections/"+collectionID+"/count", nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}
