package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rcliao/memengine/internal/index"
	"github.com/rcliao/memengine/internal/model"
)

// QueryLexical runs an FTS5 match over active memories of owner whose
// confidence is at least minConfidence. bm25 is negated so higher is
// better, and clamped at zero.
func (s *SQLiteStore) QueryLexical(ctx context.Context, owner, text string, limit int, minConfidence float64) ([]index.Hit, error) {
	if err := model.CheckOwner(owner); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, bm25(memories_fts) AS score
		 FROM memories_fts
		 JOIN memories m ON m.rowid = memories_fts.rowid
		 WHERE memories_fts MATCH ?
		   AND m.owner = ?
		   AND m.archived_at IS NULL
		   AND m.confidence >= ?
		 ORDER BY score, m.id
		 LIMIT ?`, match, owner, minConfidence, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: lexical query: %v", model.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var hits []index.Hit
	for rows.Next() {
		var h index.Hit
		var raw float64
		if err := rows.Scan(&h.ID, &raw); err != nil {
			return nil, err
		}
		h.Score = -raw
		if h.Score < 0 {
			h.Score = 0
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into an FTS5 expression: every word quoted and
// OR-ed, so punctuation in the input can't be parsed as query syntax.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + strings.ToLower(w) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Candidates loads the active entries of owner among ids whose confidence
// is at least minConfidence. Ids that fail the filter are absent.
func (s *SQLiteStore) Candidates(ctx context.Context, owner string, ids []string, minConfidence float64) (map[string]*model.Entry, error) {
	out := make(map[string]*model.Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, owner, minConfidence)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories
		 WHERE owner = ? AND archived_at IS NULL AND confidence >= ?
		   AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		out[entries[i].ID] = &entries[i]
	}
	return out, nil
}

// ActiveWithEmbeddings returns owner's active entries that carry an
// embedding and were created after createdAfter, ordered by id.
func (s *SQLiteStore) ActiveWithEmbeddings(ctx context.Context, owner string, createdAfter time.Time) ([]model.Entry, error) {
	if err := model.CheckOwner(owner); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories
		 WHERE owner = ? AND archived_at IS NULL AND embedding IS NOT NULL
		   AND created_at >= ?
		 ORDER BY id`, owner, formatTime(createdAfter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}
