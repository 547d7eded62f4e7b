package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/memengine/internal/model"
)

const (
	opUpsert = "upsert"
	opRemove = "remove"
)

// syncVector mirrors e's embedding into the vector index. A missing
// embedding removes any stale vector. Failures are queued, not returned:
// the row is already committed. Archived entries never stay indexed.
func (s *SQLiteStore) syncVector(ctx context.Context, e *model.Entry) {
	if s.vectors == nil {
		return
	}
	if !e.HasEmbedding() || !e.Active() {
		s.removeVector(ctx, e.Owner, e.ID)
		return
	}
	if err := s.vectors.Upsert(ctx, e.Owner, e.ID, e.Embedding); err != nil {
		s.enqueue(ctx, e.Owner, e.ID, opUpsert, err)
	}
}

func (s *SQLiteStore) removeVector(ctx context.Context, owner, id string) {
	if s.vectors == nil {
		return
	}
	if err := s.vectors.Remove(ctx, owner, id); err != nil {
		s.enqueue(ctx, owner, id, opRemove, err)
	}
}

func (s *SQLiteStore) enqueue(ctx context.Context, owner, id, op string, cause error) {
	s.logger.Warn("vector index write failed, queued for reconcile",
		zap.String("id", id), zap.String("op", op), zap.Error(cause))
	s.metrics.RecordIndexFailure("vector", op)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_backlog (memory_id, owner, op, attempts, last_error, queued_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT(memory_id) DO UPDATE SET
		   op = excluded.op, attempts = attempts + 1, last_error = excluded.last_error`,
		id, owner, op, cause.Error(), formatTime(s.clock()))
	if err != nil {
		s.logger.Error("enqueue index backlog", zap.String("id", id), zap.Error(err))
		return
	}
	if n, err := s.BacklogSize(ctx); err == nil {
		s.metrics.SetIndexBacklog(n)
	}
}

// BacklogSize returns the number of memories awaiting a vector index write.
func (s *SQLiteStore) BacklogSize(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_backlog`).Scan(&n)
	return n, err
}

// ReconcileIndexes replays queued vector index writes. The current row is
// the source of truth, not the queued op: an entry archived since it was
// queued is removed, an active one is upserted. It returns how many
// entries were reconciled.
func (s *SQLiteStore) ReconcileIndexes(ctx context.Context) (int, error) {
	if s.vectors == nil {
		return 0, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT memory_id, owner FROM index_backlog ORDER BY queued_at`)
	if err != nil {
		return 0, err
	}
	type pending struct{ id, owner string }
	var queue []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.owner); err != nil {
			rows.Close()
			return 0, err
		}
		queue = append(queue, p)
	}
	rows.Close()

	done := 0
	var errs []error
	for _, p := range queue {
		if err := s.reconcileOne(ctx, p.id, p.owner); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.id, err))
			s.db.ExecContext(ctx,
				`UPDATE index_backlog SET attempts = attempts + 1, last_error = ? WHERE memory_id = ?`,
				err.Error(), p.id)
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM index_backlog WHERE memory_id = ?`, p.id); err != nil {
			return done, err
		}
		done++
	}

	if n, err := s.BacklogSize(ctx); err == nil {
		s.metrics.SetIndexBacklog(n)
	}
	s.logger.Info("reconciled vector index", zap.Int("done", done), zap.Int("failed", len(errs)))
	return done, errors.Join(errs...)
}

func (s *SQLiteStore) reconcileOne(ctx context.Context, id, owner string) error {
	e, err := s.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return s.vectors.Remove(ctx, owner, id)
	}
	if err != nil {
		return err
	}
	if !e.Active() || !e.HasEmbedding() {
		return s.vectors.Remove(ctx, e.Owner, id)
	}
	return s.vectors.Upsert(ctx, e.Owner, id, e.Embedding)
}

// RebuildVectorIndex loads every active embedding into the vector index.
// The index is in-memory, so this runs once at startup.
func (s *SQLiteStore) RebuildVectorIndex(ctx context.Context) (int, error) {
	if s.vectors == nil {
		return 0, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, embedding FROM memories
		 WHERE archived_at IS NULL AND embedding IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id, owner string
		var blob []byte
		if err := rows.Scan(&id, &owner, &blob); err != nil {
			return n, err
		}
		vec := decodeEmbedding(blob)
		if len(vec) == 0 {
			continue
		}
		if err := s.vectors.Upsert(ctx, owner, id, vec); err != nil {
			return n, fmt.Errorf("rebuild %s: %w", id, err)
		}
		n++
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return n, err
	}
	s.logger.Info("vector index rebuilt", zap.Int("vectors", n))
	return n, nil
}
