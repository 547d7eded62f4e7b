package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/memengine/internal/model"
)

// ExportAll returns memories, optionally filtered by owner. Archived
// memories are included only when asked for.
func (s *SQLiteStore) ExportAll(ctx context.Context, owner string, includeArchived bool) ([]model.Entry, error) {
	where := []string{"1 = 1"}
	args := []interface{}{}

	if owner != "" {
		where = append(where, "owner = ?")
		args = append(args, owner)
	}
	if !includeArchived {
		where = append(where, "archived_at IS NULL")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories WHERE `+strings.Join(where, " AND ")+` ORDER BY owner, id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Import stores entries from an export, keeping their ids and lifecycle
// state. Entries whose id already exists are skipped. It returns how many
// were inserted.
func (s *SQLiteStore) Import(ctx context.Context, entries []model.Entry) (int, error) {
	for i := range entries {
		if err := checkImported(&entries[i]); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := s.clock()
	var inserted []*model.Entry
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = s.newID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = e.CreatedAt
		}
		if e.Version < 1 {
			e.Version = 1
		}

		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memories (id, owner, content, type, embedding, confidence, importance,
			        access_count, last_accessed, created_at, updated_at, archived_at, tags, source, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Owner, e.Content, string(e.Type), encodeEmbedding(e.Embedding), e.Confidence, e.Importance,
			e.AccessCount, nullTime(e.LastAccessed), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
			nullTime(e.ArchivedAt), encodeTags(e.Tags), nullString(e.Source), e.Version)
		if err != nil {
			return 0, fmt.Errorf("import %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, e)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	for _, e := range inserted {
		if e.Active() {
			s.syncVector(ctx, e)
		}
	}
	return len(inserted), nil
}

func checkImported(e *model.Entry) error {
	if err := model.CheckOwner(e.Owner); err != nil {
		return err
	}
	e.Content = strings.TrimSpace(e.Content)
	if e.Content == "" {
		return &model.ValidationError{Field: "content", Reason: "content is required"}
	}
	typ, err := model.ParseType(string(e.Type))
	if err != nil {
		return err
	}
	e.Type = typ
	if err := model.CheckUnit("confidence", e.Confidence); err != nil {
		return err
	}
	if err := model.CheckUnit("importance", e.Importance); err != nil {
		return err
	}
	if e.AccessCount < 0 {
		return &model.ValidationError{Field: "access_count", Reason: "must not be negative"}
	}
	return checkEmbedding(e.Embedding)
}
