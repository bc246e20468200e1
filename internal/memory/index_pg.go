package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresIndex stores chunks in Postgres with pgvector cosine search.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex connects and ensures the schema. dim fixes the vector
// column width; it must match the embedding model in use.
func NewPostgresIndex(ctx context.Context, connString string, dim int) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if dim <= 0 {
		dim = 1536
	}
	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS memory_chunks (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	doc_key TEXT NOT NULL,
	doc_hash TEXT NOT NULL,
	embedding_key TEXT NOT NULL DEFAULT '',
	chunk_index INT NOT NULL,
	total_chunks INT NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	embedding vector(%d) NOT NULL
);
ALTER TABLE memory_chunks ADD COLUMN IF NOT EXISTS embedding_key TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS memory_chunks_session_key_idx ON memory_chunks (session_id, embedding_key, doc_key);`, dim)

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create memory schema: %w", err)
	}
	return &PostgresIndex{pool: pool}, nil
}

func (p *PostgresIndex) HasDocument(ctx context.Context, sessionID, docKey, docHash, embeddingKey string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM memory_chunks WHERE session_id = $1 AND doc_key = $2 AND doc_hash = $3 AND embedding_key = $4)`,
		sessionID, docKey, docHash, embeddingKey,
	).Scan(&exists)
	return exists, err
}

func (p *PostgresIndex) ReplaceDocument(ctx context.Context, sessionID, docKey, embeddingKey string, chunks []Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM memory_chunks WHERE session_id = $1 AND doc_key = $2 AND embedding_key = $3`,
		sessionID, docKey, embeddingKey,
	); err != nil {
		return err
	}

	for _, chunk := range chunks {
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_chunks (id, session_id, doc_key, doc_hash, embedding_key, chunk_index, total_chunks, content, metadata, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO UPDATE SET
				doc_hash = EXCLUDED.doc_hash,
				embedding_key = EXCLUDED.embedding_key,
				chunk_index = EXCLUDED.chunk_index,
				total_chunks = EXCLUDED.total_chunks,
				content = EXCLUDED.content,
				metadata = EXCLUDED.metadata,
				embedding = EXCLUDED.embedding`,
			chunk.ID, chunk.SessionID, chunk.DocKey, chunk.DocHash, embeddingKey,
			chunk.ChunkIndex, chunk.TotalChunks, chunk.Text, meta,
			pgvector.NewVector(chunk.Embedding),
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (p *PostgresIndex) Query(ctx context.Context, sessionID, embeddingKey string, embedding []float32, topK int) ([]Hit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT content, metadata, 1 - (embedding <=> $2) AS score
		 FROM memory_chunks
		 WHERE session_id = $1 AND embedding_key = $4
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		sessionID, pgvector.NewVector(embedding), topK, embeddingKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		var meta []byte
		if err := rows.Scan(&hit.Text, &meta, &hit.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
			hit.Metadata = map[string]string{}
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (p *PostgresIndex) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memory_chunks WHERE session_id = $1`, sessionID)
	return err
}

func (p *PostgresIndex) Close() error {
	p.pool.Close()
	return nil
}
