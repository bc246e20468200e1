package memory

import "context"

// Chunk is one embedded slice of a document, keyed deterministically so
// re-indexing identical content is idempotent.
type Chunk struct {
	ID           string
	SessionID    string
	DocKey       string
	DocHash      string
	EmbeddingKey string
	ChunkIndex   int
	TotalChunks  int
	Text         string
	Embedding    []float32
	Metadata     map[string]string
}

// Hit is one nearest-neighbor match; Score is 1 - cosine distance.
type Hit struct {
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// VectorIndex is the storage backend for session memory. Postgres with
// pgvector is the production implementation; SQLite serves embedded and
// single-binary deployments.
type VectorIndex interface {
	// HasDocument reports whether chunks for (sessionID, docKey, docHash)
	// already exist under the given embedding key. A document indexed by
	// one embedding pipeline does not count as indexed for another.
	HasDocument(ctx context.Context, sessionID, docKey, docHash, embeddingKey string) (bool, error)

	// ReplaceDocument deletes all chunks for (sessionID, docKey,
	// embeddingKey) and stores the new set atomically. Chunks written by
	// other embedding pipelines are left alone.
	ReplaceDocument(ctx context.Context, sessionID, docKey, embeddingKey string, chunks []Chunk) error

	// Query returns the topK chunks for the session produced by the
	// given embedding key, ordered by descending score.
	Query(ctx context.Context, sessionID, embeddingKey string, embedding []float32, topK int) ([]Hit, error)

	// DeleteSession removes every chunk the session owns, across all
	// embedding keys.
	DeleteSession(ctx context.Context, sessionID string) error

	Close() error
}
