package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memengine/internal/index"
	"github.com/rcliao/memengine/internal/metrics"
	"github.com/rcliao/memengine/internal/model"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const entryColumns = `id, owner, content, type, embedding, confidence, importance, access_count,
	last_accessed, created_at, updated_at, archived_at, tags, source, version`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	vectors index.Vector
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu      sync.Mutex // guards entropy
	entropy *rand.Rand
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithVectorIndex keeps v in sync with every write that touches an embedding.
func WithVectorIndex(v index.Vector) Option {
	return func(s *SQLiteStore) { s.vectors = v }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l.With(zap.String("component", "store"))
		}
	}
}

// WithMetrics records index failures and backlog size.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *SQLiteStore) { s.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return newWithDB(db, opts...), nil
}

// newWithDB wraps an already-migrated database handle.
func newWithDB(db *sql.DB, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		db:      db,
		logger:  zap.NewNop(),
		now:     time.Now,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *SQLiteStore) clock() time.Time {
	return s.now().UTC()
}

// Create stores a new memory. Validation happens before any write.
func (s *SQLiteStore) Create(ctx context.Context, p CreateParams) (*model.Entry, error) {
	if err := model.CheckOwner(p.Owner); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return nil, &model.ValidationError{Field: "content", Reason: "content is required"}
	}
	typ, err := model.ParseType(p.Type)
	if err != nil {
		return nil, err
	}
	importance := model.DefaultImportance
	if p.Importance != nil {
		importance = *p.Importance
	}
	confidence := model.DefaultConfidence
	if p.Confidence != nil {
		confidence = *p.Confidence
	}
	if err := model.CheckUnit("importance", importance); err != nil {
		return nil, err
	}
	if err := model.CheckUnit("confidence", confidence); err != nil {
		return nil, err
	}
	if err := checkEmbedding(p.Embedding); err != nil {
		return nil, err
	}

	now := s.clock()
	e := &model.Entry{
		ID:         s.newID(),
		Owner:      p.Owner,
		Content:    content,
		Type:       typ,
		Embedding:  p.Embedding,
		Confidence: confidence,
		Importance: importance,
		CreatedAt:  now,
		UpdatedAt:  now,
		Tags:       p.Tags,
		Source:     p.Source,
		Version:    1,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, owner, content, type, embedding, confidence, importance, access_count,
		                       created_at, updated_at, tags, source, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, 1)`,
		e.ID, e.Owner, e.Content, string(e.Type), encodeEmbedding(e.Embedding), e.Confidence, e.Importance,
		formatTime(now), formatTime(now), encodeTags(e.Tags), nullString(e.Source))
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	s.syncVector(ctx, e)
	return e, nil
}

// Get retrieves a memory by id. Archived memories stay readable.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM memories WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Update applies p with optimistic concurrency: the write only lands if the
// row's version is unchanged since it was read. A lost race is retried once
// against fresh state before ErrConcurrentModification is returned.
func (s *SQLiteStore) Update(ctx context.Context, id string, p UpdateParams) (*model.Entry, error) {
	if err := validateUpdate(p); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := applyUpdate(*cur, p)
		next.UpdatedAt = s.clock()

		res, err := s.db.ExecContext(ctx,
			`UPDATE memories SET content = ?, type = ?, embedding = ?, importance = ?, confidence = ?,
			        tags = ?, source = ?, updated_at = ?, version = version + 1
			 WHERE id = ? AND version = ?`,
			next.Content, string(next.Type), encodeEmbedding(next.Embedding), next.Importance, next.Confidence,
			encodeTags(next.Tags), nullString(next.Source), formatTime(next.UpdatedAt),
			id, cur.Version)
		if err != nil {
			return nil, fmt.Errorf("update memory: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			s.logger.Debug("update lost race, retrying", zap.String("id", id), zap.Int("attempt", attempt))
			continue
		}

		next.Version = cur.Version + 1
		s.syncVector(ctx, &next)
		return &next, nil
	}
	return nil, fmt.Errorf("update %s: %w", id, model.ErrConcurrentModification)
}

func validateUpdate(p UpdateParams) error {
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return &model.ValidationError{Field: "content", Reason: "content must not be empty"}
	}
	if p.Type != nil {
		if _, err := model.ParseType(*p.Type); err != nil {
			return err
		}
	}
	if p.Importance != nil {
		if err := model.CheckUnit("importance", *p.Importance); err != nil {
			return err
		}
	}
	if p.Confidence != nil {
		if err := model.CheckUnit("confidence", *p.Confidence); err != nil {
			return err
		}
	}
	if p.ClearEmbedding && p.Embedding != nil {
		return &model.ValidationError{Field: "embedding", Reason: "cannot set and clear the embedding at once"}
	}
	return checkEmbedding(p.Embedding)
}

func applyUpdate(e model.Entry, p UpdateParams) model.Entry {
	if p.Content != nil {
		e.Content = strings.TrimSpace(*p.Content)
	}
	if p.Type != nil {
		e.Type, _ = model.ParseType(*p.Type)
	}
	if p.Embedding != nil {
		e.Embedding = p.Embedding
	}
	if p.ClearEmbedding {
		e.Embedding = nil
	}
	if p.Importance != nil {
		e.Importance = *p.Importance
	}
	if p.Confidence != nil {
		e.Confidence = *p.Confidence
	}
	if p.Tags != nil {
		e.Tags = *p.Tags
	}
	if p.Source != nil {
		e.Source = *p.Source
	}
	return e
}

// Archive marks a memory archived and drops it from the vector index.
// Archiving an archived memory is a no-op.
func (s *SQLiteStore) Archive(ctx context.Context, id string) error {
	now := formatTime(s.clock())
	var owner string
	err := s.db.QueryRowContext(ctx,
		`UPDATE memories SET archived_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND archived_at IS NULL
		 RETURNING owner`, now, now, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		// Either unknown or already archived.
		_, err := s.Get(ctx, id)
		return err
	}
	if err != nil {
		return fmt.Errorf("archive memory: %w", err)
	}
	s.removeVector(ctx, owner, id)
	return nil
}

// Restore returns an archived memory to the active set. Restoring an active
// memory is a no-op.
func (s *SQLiteStore) Restore(ctx context.Context, id string) error {
	now := formatTime(s.clock())
	var owner string
	var emb []byte
	err := s.db.QueryRowContext(ctx,
		`UPDATE memories SET archived_at = NULL, updated_at = ?, version = version + 1
		 WHERE id = ? AND archived_at IS NOT NULL
		 RETURNING owner, embedding`, now, id).Scan(&owner, &emb)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.Get(ctx, id)
		return err
	}
	if err != nil {
		return fmt.Errorf("restore memory: %w", err)
	}
	if vec := decodeEmbedding(emb); len(vec) > 0 {
		s.syncVector(ctx, &model.Entry{ID: id, Owner: owner, Embedding: vec})
	}
	return nil
}

// ListActive lists an owner's active memories, newest first.
func (s *SQLiteStore) ListActive(ctx context.Context, owner string, f ListFilter) ([]model.Entry, error) {
	if err := model.CheckOwner(owner); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"owner = ?", "archived_at IS NULL"}
	args := []interface{}{owner}

	if f.Type != "" {
		typ, err := model.ParseType(f.Type)
		if err != nil {
			return nil, err
		}
		where = append(where, "type = ?")
		args = append(args, string(typ))
	}
	for _, tag := range f.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(memories.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id
		 LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.Entry, error) {
	var e model.Entry
	var typ, createdAt, updatedAt string
	var emb []byte
	var lastAccessed, archivedAt, tags, source sql.NullString

	err := row.Scan(
		&e.ID, &e.Owner, &e.Content, &typ, &emb, &e.Confidence, &e.Importance, &e.AccessCount,
		&lastAccessed, &createdAt, &updatedAt, &archivedAt, &tags, &source, &e.Version,
	)
	if err != nil {
		return e, err
	}

	e.Type = model.MemoryType(typ)
	e.Embedding = decodeEmbedding(emb)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.LastAccessed = parseNullTime(lastAccessed)
	e.ArchivedAt = parseNullTime(archivedAt)
	if tags.Valid {
		json.Unmarshal([]byte(tags.String), &e.Tags)
	}
	if source.Valid {
		e.Source = source.String
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]model.Entry, error) {
	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeTags(tags []string) interface{} {
	if len(tags) == 0 {
		return nil
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

// encodeEmbedding packs v as little-endian float32s. nil stays NULL.
func encodeEmbedding(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func checkEmbedding(v []float32) error {
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return &model.ValidationError{Field: "embedding", Reason: "embedding contains NaN or Inf"}
		}
	}
	return nil
}
