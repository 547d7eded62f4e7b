package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/memengine/internal/model"
)

// Link creates a typed edge between two memories. Both must exist.
// Linking twice is a no-op.
func (s *SQLiteStore) Link(ctx context.Context, fromID, toID string, rel model.LinkRel) (*model.Link, error) {
	if !model.ValidRels[rel] {
		return nil, &model.ValidationError{Field: "rel", Reason: fmt.Sprintf("unknown relation %q (valid: %s)", rel, validRelList())}
	}
	if fromID == toID {
		return nil, &model.ValidationError{Field: "link", Reason: "a memory cannot link to itself"}
	}
	for _, id := range []string{fromID, toID} {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	now := s.clock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO memory_links (from_id, to_id, rel, created_at) VALUES (?, ?, ?, ?)`,
		fromID, toID, string(rel), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}
	return &model.Link{FromID: fromID, ToID: toID, Rel: rel, CreatedAt: now}, nil
}

// Unlink removes an edge. It reports whether one existed.
func (s *SQLiteStore) Unlink(ctx context.Context, fromID, toID string, rel model.LinkRel) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_links WHERE from_id = ? AND to_id = ? AND rel = ?`,
		fromID, toID, string(rel))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Links returns all edges touching a memory, in either direction.
func (s *SQLiteStore) Links(ctx context.Context, id string) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, rel, created_at FROM memory_links
		 WHERE from_id = ? OR to_id = ?
		 ORDER BY created_at, from_id, to_id`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		var l model.Link
		var rel, created string
		if err := rows.Scan(&l.FromID, &l.ToID, &rel, &created); err != nil {
			return nil, err
		}
		l.Rel = model.LinkRel(rel)
		l.CreatedAt = parseTime(created)
		links = append(links, l)
	}
	return links, rows.Err()
}

func validRelList() string {
	rels := make([]string, 0, len(model.ValidRels))
	for r := range model.ValidRels {
		rels = append(rels, string(r))
	}
	sort.Strings(rels)
	return strings.Join(rels, ", ")
}
