// Package index defines the secondary search indexes kept in sync with the
// memory store, and provides the chromem-go backed vector index.
package index

import "context"

// Hit is a candidate memory id with the raw score of one index.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Vector is a nearest-neighbour index over memory embeddings, partitioned
// by owner. Query returns hits ordered by descending cosine similarity.
type Vector interface {
	Upsert(ctx context.Context, owner, id string, vec []float32) error
	Remove(ctx context.Context, owner, id string) error
	Query(ctx context.Context, owner string, vec []float32, limit int) ([]Hit, error)
	Count(owner string) int
}

// Lexical is a keyword index over memory content. Scores are non-negative
// and higher means more relevant. Implementations filter to active entries
// of owner whose confidence is at least minConfidence.
type Lexical interface {
	QueryLexical(ctx context.Context, owner, text string, limit int, minConfidence float64) ([]Hit, error)
}
