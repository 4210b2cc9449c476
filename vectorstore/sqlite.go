package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SQLite is a brute-force similarity store over a shared SQLite database.
// Vectors are stored as little-endian float32 blobs with precomputed norms;
// Search ranks every chunk of the collection by cosine similarity. Fine for
// the corpus sizes of a single course, not for millions of chunks.
type SQLite struct {
	db *sql.DB
}

// NewSQLite binds the store to an open database and creates its schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS doc_chunks (
			chunk_id TEXT PRIMARY KEY,
			collection TEXT NOT NULL DEFAULT 'default',
			file_uuid TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			norm REAL NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_doc_chunks_collection ON doc_chunks(collection);
		CREATE INDEX IF NOT EXISTS idx_doc_chunks_file ON doc_chunks(file_uuid);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("vectorstore: init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Upsert stores document chunks with their vectors.
func (s *SQLite) Upsert(ctx context.Context, collection string, docs []Document) error {
	now := time.Now().Unix()
	for _, d := range docs {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO doc_chunks (chunk_id, collection, file_uuid, source, content,
				embedding, dimension, norm, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), collection, d.FileUUID, d.Source, d.Content,
			SerializeVector(d.Vector), len(d.Vector), Norm(d.Vector), now)
		if err != nil {
			return fmt.Errorf("vectorstore: insert chunk: %w", err)
		}
	}
	return nil
}

type scored struct {
	result Result
	score  float64
}

// Search ranks every chunk of the collection by cosine similarity against
// the query vector and returns the topK best.
func (s *SQLite) Search(ctx context.Context, vector []float32, collection string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 3
	}
	queryNorm := Norm(vector)

	rows, err := s.db.QueryContext(ctx, `
		SELECT content, source, file_uuid, embedding, norm
		FROM doc_chunks WHERE collection = ?
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query chunks: %w", err)
	}
	defer rows.Close()

	var candidates []scored
	for rows.Next() {
		var (
			res  Result
			blob []byte
			norm float64
		)
		if err := rows.Scan(&res.Content, &res.Source, &res.FileUUID, &blob, &norm); err != nil {
			return nil, fmt.Errorf("vectorstore: scan chunk: %w", err)
		}
		score := CosineSimilarity(vector, DeserializeVector(blob), queryNorm, norm)
		candidates = append(candidates, scored{result: res, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}
	return results, nil
}
