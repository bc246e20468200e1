// Package memory implements session-scoped semantic memory: fetched PDF
// text is chunked, embedded, and stored in a vector index so later turns
// can search it. The store degrades to no-ops while its vector-store
// dependency is unavailable instead of failing the conversation.
package memory

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/policyradar/policyradar/internal/observe"
)

// Index outcome statuses.
const (
	StatusIndexed = "indexed"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// IndexOutcome reports what AddDocument did. It is data, never an
// error: callers surface it inside tool previews.
type IndexOutcome struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
}

// Options tunes chunking and retry behavior.
type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	MaxChunks      int
	TopK           int
	MaxRetries     int
	InitialBackoff time.Duration
}

const embedBatchSize = 32

// Store ties the chunker, embedders, and vector index together.
type Store struct {
	index  VectorIndex
	obs    *observe.Observer
	opts   Options
	health *healthGate

	mu        sync.Mutex
	embedders map[string]Embedder
}

func NewStore(index VectorIndex, obs *observe.Observer, opts Options) *Store {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1200
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	return &Store{
		index:     index,
		obs:       obs,
		opts:      opts,
		health:    newHealthGate(),
		embedders: map[string]Embedder{},
	}
}

// RegisterEmbedder installs a pre-built embedder for a pipeline key,
// bypassing lazy construction.
func (s *Store) RegisterEmbedder(cfg EmbeddingConfig, e Embedder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedders[cfg.Key()] = e
}

// embedderFor returns a cached embedder per pipeline key.
func (s *Store) embedderFor(cfg EmbeddingConfig) (Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.embedders[cfg.Key()]; ok {
		return e, nil
	}
	e, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	s.embedders[cfg.Key()] = e
	return e, nil
}

// chunkIDs derives deterministic ids from the session, a hash of the
// document key plus embedding key, and the chunk index. Folding the
// embedding key into the hash keeps ids unique when the same document
// is indexed by more than one pipeline.
func chunkIDs(sessionID, docKey, embeddingKey string, count int) []string {
	keyHash := sha1.Sum([]byte(docKey + "\n" + embeddingKey))
	prefix := strings.ReplaceAll(sessionID, "-", "")
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s_%s_%d", prefix, hex.EncodeToString(keyHash[:]), i)
	}
	return ids
}

// embedWithRetry runs one embedding batch with exponential backoff.
func (s *Store) embedWithRetry(ctx context.Context, embedder Embedder, texts []string) ([][]float32, error) {
	backoff := s.opts.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if attempt < s.opts.MaxRetries {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}
	return nil, fmt.Errorf("embedding failed after retries: %w", lastErr)
}

// AddDocument chunks, embeds, and stores text under (sessionID, docKey).
// Identical content is skipped; changed content replaces prior chunks.
func (s *Store) AddDocument(ctx context.Context, sessionID, docKey, text string, metadata map[string]string, embCfg EmbeddingConfig) IndexOutcome {
	if sessionID == "" || docKey == "" || strings.TrimSpace(text) == "" {
		return IndexOutcome{Status: StatusSkipped, Reason: "empty_input"}
	}

	if !s.health.available() {
		return IndexOutcome{Status: StatusSkipped, Reason: "memory_unavailable"}
	}

	normalized := normalizeText(text)
	chunks := chunkText(normalized, s.opts.ChunkSize, s.opts.ChunkOverlap, s.opts.MaxChunks)
	if len(chunks) == 0 {
		return IndexOutcome{Status: StatusSkipped, Reason: "empty_input"}
	}
	if s.opts.MaxChunks > 0 && len(chunks) >= s.opts.MaxChunks {
		s.obs.Log().Warn().
			Int("max_chunks", s.opts.MaxChunks).
			Str("doc_key", docKey).
			Msg("Chunk limit reached, remaining text not indexed")
	}

	hashBytes := sha256.Sum256([]byte(normalized))
	docHash := hex.EncodeToString(hashBytes[:])
	embKey := embCfg.Key()

	exists, err := s.index.HasDocument(ctx, sessionID, docKey, docHash, embKey)
	if err != nil {
		s.health.markFailure()
		return IndexOutcome{Status: StatusFailed, Error: err.Error()}
	}
	if exists {
		s.obs.Log().Info().Str("session_id", sessionID).Str("doc_key", docKey).Msg("Document already indexed")
		return IndexOutcome{Status: StatusSkipped, Reason: "already_indexed"}
	}

	embedder, err := s.embedderFor(embCfg)
	if err != nil {
		return IndexOutcome{Status: StatusFailed, Error: err.Error()}
	}

	var embeddings [][]float32
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		vectors, err := s.embedWithRetry(ctx, embedder, chunks[start:end])
		if err != nil {
			return IndexOutcome{Status: StatusFailed, Error: err.Error()}
		}
		embeddings = append(embeddings, vectors...)
	}

	ids := chunkIDs(sessionID, docKey, embKey, len(chunks))
	records := make([]Chunk, len(chunks))
	for i, text := range chunks {
		meta := map[string]string{
			"session_id": sessionID,
			"doc_key":    docKey,
			"doc_hash":   docHash,
		}
		for k, v := range metadata {
			meta[k] = v
		}
		records[i] = Chunk{
			ID:           ids[i],
			SessionID:    sessionID,
			DocKey:       docKey,
			DocHash:      docHash,
			EmbeddingKey: embKey,
			ChunkIndex:   i,
			TotalChunks:  len(chunks),
			Text:         text,
			Embedding:    embeddings[i],
			Metadata:     meta,
		}
	}

	if err := s.index.ReplaceDocument(ctx, sessionID, docKey, embKey, records); err != nil {
		s.health.markFailure()
		return IndexOutcome{Status: StatusFailed, Error: err.Error()}
	}
	s.health.markSuccess()

	s.obs.Log().Info().
		Int("chunks", len(chunks)).
		Str("session_id", sessionID).
		Str("doc_key", docKey).
		Msg("Indexed document chunks")
	return IndexOutcome{Status: StatusIndexed, Chunks: len(chunks)}
}

// Query embeds the query text and returns the session's nearest chunks.
// Failures degrade to an empty result.
func (s *Store) Query(ctx context.Context, sessionID, queryText string, topK int, embCfg EmbeddingConfig) []Hit {
	if sessionID == "" || strings.TrimSpace(queryText) == "" {
		return nil
	}
	if !s.health.available() {
		return nil
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}

	embedder, err := s.embedderFor(embCfg)
	if err != nil {
		s.obs.Log().Warn().Str("error", err.Error()).Msg("Memory query embedder unavailable")
		return nil
	}
	vectors, err := s.embedWithRetry(ctx, embedder, []string{queryText})
	if err != nil || len(vectors) == 0 {
		return nil
	}

	hits, err := s.index.Query(ctx, sessionID, embCfg.Key(), vectors[0], topK)
	if err != nil {
		s.health.markFailure()
		s.obs.Log().Warn().Str("error", err.Error()).Msg("Memory query failed")
		return nil
	}
	s.health.markSuccess()
	return hits
}

// DeleteSession clears every chunk the session owns.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.index.DeleteSession(ctx, sessionID); err != nil {
		s.health.markFailure()
		return err
	}
	s.health.markSuccess()
	s.obs.Log().Info().Str("session_id", sessionID).Msg("Cleared session memory")
	return nil
}

// Close releases the underlying index.
func (s *Store) Close() error {
	return s.index.Close()
}
