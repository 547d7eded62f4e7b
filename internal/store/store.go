// Package store provides the memory storage interface and SQLite implementation.
package store

import (
	"context"

	"github.com/rcliao/memengine/internal/index"
	"github.com/rcliao/memengine/internal/model"
)

// CreateParams holds parameters for storing a new memory.
type CreateParams struct {
	Owner      string
	Content    string
	Type       string
	Embedding  []float32
	Importance *float64 // nil means model.DefaultImportance
	Confidence *float64 // nil means model.DefaultConfidence
	Tags       []string
	Source     string
}

// UpdateParams holds the fields to change on an existing memory. Nil
// fields are left untouched.
type UpdateParams struct {
	Content        *string
	Type           *string
	Embedding      []float32
	ClearEmbedding bool
	Importance     *float64
	Confidence     *float64
	Tags           *[]string
	Source         *string
}

// ListFilter narrows ListActive.
type ListFilter struct {
	Type  string
	Tags  []string
	Limit int
}

// DecayParams selects stale entries for a confidence decrement.
type DecayParams struct {
	Owner             string // empty means all owners
	ThresholdDays     int
	Amount            float64
	MinConfidence     float64
	ProtectImportance float64
	ProtectConfidence float64
}

// ArchiveParams selects decayed entries for archival.
type ArchiveParams struct {
	Owner         string
	Threshold     float64
	ImportanceCap float64
	GraceDays     int
}

// Store defines the memory storage interface.
type Store interface {
	// Create stores a new memory and indexes it.
	Create(ctx context.Context, p CreateParams) (*model.Entry, error)

	// Get retrieves a memory by id, archived or not.
	Get(ctx context.Context, id string) (*model.Entry, error)

	// Update changes fields of a memory and re-indexes it.
	Update(ctx context.Context, id string, p UpdateParams) (*model.Entry, error)

	// Archive marks a memory archived. Archiving twice is a no-op.
	Archive(ctx context.Context, id string) error

	// ListActive lists an owner's active memories, newest first.
	ListActive(ctx context.Context, owner string, f ListFilter) ([]model.Entry, error)

	// Reinforce records one use of a memory. It reports false when the
	// memory is archived.
	Reinforce(ctx context.Context, id string, boost float64) (bool, error)

	// DecayStale lowers the confidence of neglected memories.
	DecayStale(ctx context.Context, p DecayParams) (int64, error)

	// ArchiveDecayed archives low-confidence memories and returns their ids.
	ArchiveDecayed(ctx context.Context, p ArchiveParams) ([]string, error)

	index.Lexical

	// Close closes the store.
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
