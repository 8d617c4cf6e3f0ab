package vectorstore

// MetadataEmbeddingsKey is the reserved metadata key callers may use to pass a
// precomputed vector inline with a document. It is lifted into
// Document.Embedding and stripped before persistence; it never appears in
// stored metadata.
const MetadataEmbeddingsKey = "embeddings"

// Document is the unit of storage: text content plus free-form metadata.
type Document struct {
	// ID is the unique identifier within a collection. Generated (UUID v4)
	// on insert when empty.
	ID string

	// Content is the text payload. Never empty on insert.
	Content string

	// Metadata contains additional key-value pairs for filtering.
	Metadata map[string]interface{}

	// Embedding is an optional precomputed vector. When empty on Add, the
	// backend (or the facade) obtains one from the embedding provider.
	// Never persisted inside Metadata.
	Embedding []float32

	// Distance is populated only on query results, and only when the backend
	// reports one. Lower means more similar.
	Distance *float32
}

// Query describes a similarity search. Exactly one of Text and Embedding must
// be supplied; when both are given the embedding takes precedence.
type Query struct {
	// Text is the query text, embedded before searching.
	Text string

	// Embedding is a precomputed query vector.
	Embedding []float32

	// NResults caps the number of returned documents. Defaults to
	// DefaultNResults when non-positive.
	NResults int

	// Where is an equality/range filter over metadata keys. Nil means no
	// filter.
	Where map[string]interface{}
}

// DefaultNResults is the result cap applied when Query.NResults is not set.
const DefaultNResults = 10

// Validate checks the query against the caller contract.
func (q Query) Validate() error {
	if q.Text == "" && len(q.Embedding) == 0 {
		return ErrNoQueryInput
	}
	return nil
}

// Limit returns the effective result cap.
func (q Query) Limit() int {
	if q.NResults <= 0 {
		return DefaultNResults
	}
	return q.NResults
}

// CollectionInfo contains metadata about a vector collection.
type CollectionInfo struct {
	// Name is the collection name.
	Name string `json:"name"`

	// Count is the number of documents in the collection.
	Count int `json:"count"`

	// Dimensions is the vector dimensionality of the collection.
	Dimensions int `json:"dimensions"`
}
