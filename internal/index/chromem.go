package index

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemIndex wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database; the index lives in
// memory and is rebuilt from the store on startup.
type ChromemIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection // per-owner collections
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewChromemIndex creates an empty in-memory vector index.
func NewChromemIndex(logger *zap.Logger) *ChromemIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		logger:      logger.With(zap.String("component", "vector_index")),
	}
}

// collection returns the collection for an owner, creating it when create
// is set. Each owner gets its own collection for isolation.
func (x *ChromemIndex) collection(owner string, create bool) (*chromem.Collection, error) {
	x.mu.RLock()
	col, ok := x.collections[owner]
	x.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Double-check after acquiring write lock
	if col, ok := x.collections[owner]; ok {
		return col, nil
	}

	// No embedding func: embeddings are always supplied by the caller.
	col, err := x.db.GetOrCreateCollection("owner_"+owner, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collections[owner] = col
	return col, nil
}

// Upsert adds or replaces the embedding for id.
func (x *ChromemIndex) Upsert(ctx context.Context, owner, id string, vec []float32) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(vec) == 0 {
		return fmt.Errorf("vector is required")
	}
	col, err := x.collection(owner, true)
	if err != nil {
		return err
	}

	// chromem normalizes in place; hand it a copy.
	doc := chromem.Document{
		ID:        id,
		Embedding: append([]float32(nil), vec...),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Remove deletes id from the owner's collection. Unknown ids are ignored.
func (x *ChromemIndex) Remove(ctx context.Context, owner, id string) error {
	col, err := x.collection(owner, false)
	if err != nil || col == nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Query returns up to limit hits by cosine similarity.
func (x *ChromemIndex) Query(ctx context.Context, owner string, vec []float32, limit int) ([]Hit, error) {
	if limit <= 0 || len(vec) == 0 {
		return nil, nil
	}
	col, err := x.collection(owner, false)
	if err != nil || col == nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}

	results, err := col.QueryEmbedding(ctx, vec, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Score: float64(r.Similarity)})
	}
	x.logger.Debug("vector query",
		zap.String("owner", owner),
		zap.Int("limit", limit),
		zap.Int("hits", len(hits)))
	return hits, nil
}

// Count returns the number of vectors indexed for owner.
func (x *ChromemIndex) Count(owner string) int {
	col, _ := x.collection(owner, false)
	if col == nil {
		return 0
	}
	return col.Count()
}
