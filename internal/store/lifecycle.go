package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memengine/internal/model"
)

// Reinforce bumps access_count, last_accessed and confidence in one
// statement so concurrent uses never lose an increment. Confidence is
// rounded to nine places to keep repeated deltas from drifting.
func (s *SQLiteStore) Reinforce(ctx context.Context, id string, boost float64) (bool, error) {
	if err := model.CheckUnit("boost", boost); err != nil {
		return false, err
	}
	now := formatTime(s.clock())
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories
		 SET access_count = access_count + 1,
		     last_accessed = ?,
		     confidence = MIN(1.0, ROUND(confidence + ?, 9)),
		     updated_at = ?,
		     version = version + 1
		 WHERE id = ? AND archived_at IS NULL`,
		now, boost, now, id)
	if err != nil {
		return false, fmt.Errorf("reinforce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Nothing changed: archived (no-op) or unknown.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// DecayStale lowers the confidence of active memories not accessed within
// the threshold, never below MinConfidence. High-importance memories that
// are still confident are left alone.
func (s *SQLiteStore) DecayStale(ctx context.Context, p DecayParams) (int64, error) {
	if err := checkDecay(p); err != nil {
		return 0, err
	}
	now := s.clock()
	cutoff := formatTime(now.Add(-time.Duration(p.ThresholdDays) * 24 * time.Hour))

	query := `UPDATE memories
		 SET confidence = MAX(?, ROUND(confidence - ?, 9)),
		     updated_at = ?,
		     version = version + 1
		 WHERE archived_at IS NULL
		   AND (last_accessed IS NULL OR last_accessed < ?)
		   AND confidence > ?
		   AND NOT (importance > ? AND confidence > ?)`
	args := []interface{}{p.MinConfidence, p.Amount, formatTime(now), cutoff,
		p.MinConfidence, p.ProtectImportance, p.ProtectConfidence}
	if p.Owner != "" {
		query += ` AND owner = ?`
		args = append(args, p.Owner)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("decay: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.logger.Debug("decayed stale memories", zap.Int64("count", n), zap.String("owner", p.Owner))
	return n, nil
}

// ArchiveDecayed archives active memories at or below the threshold whose
// importance is under the cap and which are older than the grace period.
// Archived ids are dropped from the vector index.
func (s *SQLiteStore) ArchiveDecayed(ctx context.Context, p ArchiveParams) ([]string, error) {
	if err := model.CheckUnit("archive threshold", p.Threshold); err != nil {
		return nil, err
	}
	if err := model.CheckUnit("importance cap", p.ImportanceCap); err != nil {
		return nil, err
	}
	if p.GraceDays < 0 {
		return nil, &model.ValidationError{Field: "grace days", Reason: "must not be negative"}
	}
	now := s.clock()
	grace := formatTime(now.Add(-time.Duration(p.GraceDays) * 24 * time.Hour))

	query := `UPDATE memories
		 SET archived_at = ?, updated_at = ?, version = version + 1
		 WHERE archived_at IS NULL
		   AND confidence <= ?
		   AND importance < ?
		   AND created_at < ?`
	args := []interface{}{formatTime(now), formatTime(now), p.Threshold, p.ImportanceCap, grace}
	if p.Owner != "" {
		query += ` AND owner = ?`
		args = append(args, p.Owner)
	}
	query += ` RETURNING id, owner`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive decayed: %w", err)
	}
	type archived struct{ id, owner string }
	var out []archived
	for rows.Next() {
		var a archived
		if err := rows.Scan(&a.id, &a.owner); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	ids := make([]string, 0, len(out))
	for _, a := range out {
		s.removeVector(ctx, a.owner, a.id)
		ids = append(ids, a.id)
	}
	return ids, nil
}

func checkDecay(p DecayParams) error {
	if p.ThresholdDays < 0 {
		return &model.ValidationError{Field: "threshold days", Reason: "must not be negative"}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"decay amount", p.Amount},
		{"min confidence", p.MinConfidence},
		{"protect importance", p.ProtectImportance},
		{"protect confidence", p.ProtectConfidence},
	} {
		if err := model.CheckUnit(f.name, f.v); err != nil {
			return err
		}
	}
	return nil
}
