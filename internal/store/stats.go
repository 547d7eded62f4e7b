package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath           string       `json:"db_path"`
	DBSizeBytes      int64        `json:"db_size_bytes"`
	TotalMemories    int          `json:"total_memories"`
	ActiveMemories   int          `json:"active_memories"`
	ArchivedMemories int          `json:"archived_memories"`
	WithEmbedding    int          `json:"with_embedding"`
	Links            int          `json:"links"`
	IndexBacklog     int          `json:"index_backlog"`
	SchemaVersion    uint         `json:"schema_version"`
	Owners           []OwnerStats `json:"owners"`
}

// OwnerStats holds per-owner counts.
type OwnerStats struct {
	Owner         string         `json:"owner"`
	Active        int            `json:"active"`
	Archived      int            `json:"archived"`
	AvgConfidence float64        `json:"avg_confidence"`
	ByType        map[string]int `json:"by_type,omitempty"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN archived_at IS NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN embedding IS NOT NULL AND archived_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM memories`).Scan(&st.TotalMemories, &st.ActiveMemories, &st.WithEmbedding)
	if err != nil {
		return nil, err
	}
	st.ArchivedMemories = st.TotalMemories - st.ActiveMemories
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_links`).Scan(&st.Links)
	st.IndexBacklog, _ = s.BacklogSize(ctx)
	st.SchemaVersion, _ = schemaVersion(s.db)

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner,
		       SUM(CASE WHEN archived_at IS NULL THEN 1 ELSE 0 END) AS active,
		       SUM(CASE WHEN archived_at IS NOT NULL THEN 1 ELSE 0 END),
		       COALESCE(AVG(CASE WHEN archived_at IS NULL THEN confidence END), 0)
		FROM memories GROUP BY owner ORDER BY active DESC, owner`)
	if err != nil {
		return st, err
	}
	index := map[string]int{}
	for rows.Next() {
		var o OwnerStats
		if err := rows.Scan(&o.Owner, &o.Active, &o.Archived, &o.AvgConfidence); err != nil {
			rows.Close()
			return st, err
		}
		index[o.Owner] = len(st.Owners)
		st.Owners = append(st.Owners, o)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT owner, type, COUNT(*) FROM memories
		WHERE archived_at IS NULL GROUP BY owner, type`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var owner, typ string
		var n int
		if err := rows.Scan(&owner, &typ, &n); err != nil {
			return st, err
		}
		i, ok := index[owner]
		if !ok {
			continue
		}
		if st.Owners[i].ByType == nil {
			st.Owners[i].ByType = map[string]int{}
		}
		st.Owners[i].ByType[typ] = n
	}

	return st, rows.Err()
}

// Owners lists every owner with at least one active memory.
func (s *SQLiteStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT owner FROM memories WHERE archived_at IS NULL ORDER BY owner`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}
