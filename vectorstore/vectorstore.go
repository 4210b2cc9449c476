// Package vectorstore provides the similarity-search boundary of the chat
// pipeline: given a query vector, return the top-K nearest stored document
// chunks with their source metadata.
//
// Two implementations exist: a minimal Qdrant REST client for deployments
// with a dedicated vector database, and a brute-force SQLite store for local
// setups and tests. Callers depend only on Searcher.
package vectorstore

import "context"

// Result is one ranked chunk returned by a similarity search.
type Result struct {
	Content  string `json:"content"`
	Source   string `json:"source"`
	FileUUID string `json:"file_uuid"`
}

// Document is one chunk to be stored, with its embedding vector.
type Document struct {
	Content  string
	Source   string
	FileUUID string
	Vector   []float32
}

// Searcher returns the top-K chunks nearest to a query vector within a
// collection. Implementations tolerate concurrent use.
type Searcher interface {
	Search(ctx context.Context, vector []float32, collection string, topK int) ([]Result, error)
}

// Upserter stores document chunks with their vectors.
type Upserter interface {
	Upsert(ctx context.Context, collection string, docs []Document) error
}
