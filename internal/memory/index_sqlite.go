package memory

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is the embedded vector index. Embeddings are stored as
// little-endian float32 blobs; similarity is computed in Go. Fine for
// the per-session chunk counts this system produces.
type SQLiteIndex struct {
	db *sql.DB
}

func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS memory_chunks (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	doc_key TEXT NOT NULL,
	doc_hash TEXT NOT NULL,
	embedding_key TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding BLOB NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create memory schema: %w", err)
	}

	// Databases written before embedding keys existed lack the column.
	// The '' default never matches a live pipeline key, so pre-existing
	// vectors stay invisible instead of surfacing as incompatible hits.
	_, _ = db.Exec(`ALTER TABLE memory_chunks ADD COLUMN embedding_key TEXT NOT NULL DEFAULT ''`)

	if _, err := db.Exec(
		`CREATE INDEX IF NOT EXISTS memory_chunks_session_key_idx ON memory_chunks (session_id, embedding_key, doc_key)`,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create memory schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func encodeVector(vec []float32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	_ = binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec)
	return vec
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func (s *SQLiteIndex) HasDocument(ctx context.Context, sessionID, docKey, docHash, embeddingKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM memory_chunks WHERE session_id = ? AND doc_key = ? AND doc_hash = ? AND embedding_key = ? LIMIT 1`,
		sessionID, docKey, docHash, embeddingKey,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteIndex) ReplaceDocument(ctx context.Context, sessionID, docKey, embeddingKey string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_chunks WHERE session_id = ? AND doc_key = ? AND embedding_key = ?`,
		sessionID, docKey, embeddingKey,
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO memory_chunks (id, session_id, doc_key, doc_hash, embedding_key, chunk_index, total_chunks, content, metadata, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.SessionID, chunk.DocKey, chunk.DocHash, embeddingKey,
			chunk.ChunkIndex, chunk.TotalChunks, chunk.Text, string(meta),
			encodeVector(chunk.Embedding),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteIndex) Query(ctx context.Context, sessionID, embeddingKey string, embedding []float32, topK int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content, metadata, embedding FROM memory_chunks WHERE session_id = ? AND embedding_key = ?`,
		sessionID, embeddingKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var content, metaJSON string
		var blob []byte
		if err := rows.Scan(&content, &metaJSON, &blob); err != nil {
			return nil, err
		}
		var meta map[string]string
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			meta = map[string]string{}
		}
		hits = append(hits, Hit{
			Text:     content,
			Score:    cosineSimilarity(embedding, decodeVector(blob)),
			Metadata: meta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *SQLiteIndex) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_chunks WHERE session_id = ?`, sessionID)
	return err
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
