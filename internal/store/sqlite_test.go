package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memengine/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func f64(v float64) *float64 { return &v }
func str(v string) *string    { return &v }

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	e, err := s.Create(ctx, CreateParams{Owner: "u1", Content: "  likes green tea  ", Tags: []string{"drink"}})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "likes green tea", e.Content)
	assert.Equal(t, model.TypeFact, e.Type)
	assert.Equal(t, model.DefaultConfidence, e.Confidence)
	assert.Equal(t, model.DefaultImportance, e.Importance)
	assert.Equal(t, int64(1), e.Version)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Content, got.Content)
	assert.Equal(t, []string{"drink"}, got.Tags)
	assert.True(t, got.CreatedAt.Equal(clock.Now()))
	assert.Nil(t, got.LastAccessed)
	assert.Nil(t, got.ArchivedAt)
	assert.Zero(t, got.AccessCount)
}

func TestCreateEmbeddingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	vec := []float32{0.25, -1.5, 3}
	e, err := s.Create(ctx, CreateParams{Owner: "u1", Content: "x", Embedding: vec})
	require.NoError(t, err)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, vec, got.Embedding)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cases := []struct {
		name  string
		p     CreateParams
		field string
	}{
		{"empty owner", CreateParams{Owner: " ", Content: "x"}, "owner"},
		{"empty content", CreateParams{Owner: "u", Content: "  "}, "content"},
		{"bad type", CreateParams{Owner: "u", Content: "x", Type: "rumor"}, "type"},
		{"importance too high", CreateParams{Owner: "u", Content: "x", Importance: f64(1.5)}, "importance"},
		{"negative confidence", CreateParams{Owner: "u", Content: "x", Confidence: f64(-0.1)}, "confidence"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Create(ctx, tc.p)
			var ve *model.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	all, err := s.ExportAll(ctx, "", true)
	require.NoError(t, err)
	assert.Empty(t, all, "rejected creates must not write")
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	e, err := s.Create(ctx, CreateParams{Owner: "u1", Content: "lives in Portland", Embedding: []float32{1, 0}})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	up, err := s.Update(ctx, e.ID, UpdateParams{Content: str("lives in Seattle"), Importance: f64(0.9)})
	require.NoError(t, err)
	assert.Equal(t, "lives in Seattle", up.Content)
	assert.Equal(t, 0.9, up.Importance)
	assert.Equal(t, int64(2), up.Version)
	assert.True(t, up.UpdatedAt.After(e.UpdatedAt))
	assert.Equal(t, []float32{1, 0}, up.Embedding, "embedding kept when not supplied")

	// Lexical index follows the content change.
	hits, err := s.QueryLexical(ctx, "u1", "Seattle", 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	hits, err = s.QueryLexical(ctx, "u1", "Portland", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	cleared, err := s.Update(ctx, e.ID, UpdateParams{ClearEmbedding: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.Embedding)
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e, err := s.Create(ctx, CreateParams{Owner: "u1", Content: "x"})
	require.NoError(t, err)

	_, err = s.Update(ctx, e.ID, UpdateParams{Confidence: f64(2)})
	assert.True(t, model.IsValidation(err))
	_, err = s.Update(ctx, e.ID, UpdateParams{Content: str("")})
	assert.True(t, model.IsValidation(err))
	_, err = s.Update(ctx, "missing", UpdateParams{Content: str("y")})
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestArchiveRestore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	vec := newFakeVector()
	s := newTestStore(t, WithClock(clock.Now), WithVectorIndex(vec))

	e, err := s.Create(ctx, CreateParams{Owner: "u1", Content: "x", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	assert.True(t, vec.has("u1", e.ID))

	require.NoError(t, s.Archive(ctx, e.ID))
	assert.False(t, vec.has("u1", e.ID))

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err, "archived entries stay readable")
	require.NotNil(t, got.ArchivedAt)
	first := *got.ArchivedAt

	// Archiving again keeps the original timestamp.
	clock.Advance(time.Hour)
	require.NoError(t, s.Archive(ctx, e.ID))
	got, _ = s.Get(ctx, e.ID)
	assert.True(t, got.ArchivedAt.Equal(first))

	list, err := s.ListActive(ctx, "u1", ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.Restore(ctx, e.ID))
	got, _ = s.Get(ctx, e.ID)
	assert.Nil(t, got.ArchivedAt)
	assert.True(t, vec.has("u1", e.ID))
	require.NoError(t, s.Restore(ctx, e.ID), "restoring an active entry is a no-op")

	assert.ErrorIs(t, s.Archive(ctx, "missing"), model.ErrNotFound)
	assert.ErrorIs(t, s.Restore(ctx, "missing"), model.ErrNotFound)
}

func TestListActive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	for _, p := range []CreateParams{
		{Owner: "u1", Content: "a", Type: "fact", Tags: []string{"home"}},
		{Owner: "u1", Content: "b", Type: "preference", Tags: []string{"food", "home"}},
		{Owner: "u1", Content: "c", Type: "preference"},
		{Owner: "u2", Content: "d"},
	} {
		_, err := s.Create(ctx, p)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	all, err := s.ListActive(ctx, "u1", ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Content, "newest first")

	prefs, err := s.ListActive(ctx, "u1", ListFilter{Type: "preference"})
	require.NoError(t, err)
	assert.Len(t, prefs, 2)

	home, err := s.ListActive(ctx, "u1", ListFilter{Tags: []string{"home"}})
	require.NoError(t, err)
	assert.Len(t, home, 2)

	limited, err := s.ListActive(ctx, "u1", ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = s.ListActive(ctx, "", ListFilter{})
	assert.True(t, model.IsValidation(err))
}

func TestListActiveTagsMatchExactly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exact, err := s.Create(ctx, CreateParams{Owner: "u1", Content: "a", Tags: []string{"a_b"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateParams{Owner: "u1", Content: "b", Tags: []string{"axb"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateParams{Owner: "u1", Content: "c", Tags: []string{"100%"}})
	require.NoError(t, err)

	got, err := s.ListActive(ctx, "u1", ListFilter{Tags: []string{"a_b"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, exact.ID, got[0].ID)

	got, err = s.ListActive(ctx, "u1", ListFilter{Tags: []string{"%"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _ := s.Create(ctx, CreateParams{Owner: "u1", Content: "a"})
	b, _ := s.Create(ctx, CreateParams{Owner: "u1", Content: "b"})

	l, err := s.Link(ctx, a.ID, b.ID, model.RelSupersedes)
	require.NoError(t, err)
	assert.Equal(t, model.RelSupersedes, l.Rel)
	_, err = s.Link(ctx, a.ID, b.ID, model.RelSupersedes)
	require.NoError(t, err, "duplicate link is a no-op")

	links, err := s.Links(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, a.ID, links[0].FromID)

	_, err = s.Link(ctx, a.ID, "missing", model.RelRelated)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.Link(ctx, a.ID, b.ID, "refines")
	assert.True(t, model.IsValidation(err))
	_, err = s.Link(ctx, a.ID, a.ID, model.RelRelated)
	assert.True(t, model.IsValidation(err))

	removed, err := s.Unlink(ctx, a.ID, b.ID, model.RelSupersedes)
	require.NoError(t, err)
	assert.True(t, removed)
	links, _ = s.Links(ctx, a.ID)
	assert.Empty(t, links)
}

func TestStatsAndOwners(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "stats.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	a, _ := s.Create(ctx, CreateParams{Owner: "u1", Content: "a", Embedding: []float32{1}})
	s.Create(ctx, CreateParams{Owner: "u1", Content: "b", Type: "goal"})
	c, _ := s.Create(ctx, CreateParams{Owner: "u2", Content: "c"})
	require.NoError(t, s.Archive(ctx, c.ID))
	_ = a

	st, err := s.Stats(ctx, dbPath)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalMemories)
	assert.Equal(t, 2, st.ActiveMemories)
	assert.Equal(t, 1, st.ArchivedMemories)
	assert.Equal(t, 1, st.WithEmbedding)
	assert.Equal(t, uint(1), st.SchemaVersion)
	assert.Greater(t, st.DBSizeBytes, int64(0))
	require.Len(t, st.Owners, 2)
	assert.Equal(t, "u1", st.Owners[0].Owner)
	assert.Equal(t, 1, st.Owners[0].ByType["goal"])

	owners, err := s.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, owners)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	a, _ := src.Create(ctx, CreateParams{Owner: "u1", Content: "alpha", Embedding: []float32{1, 0}, Importance: f64(0.7)})
	b, _ := src.Create(ctx, CreateParams{Owner: "u1", Content: "beta"})
	_, err := src.Reinforce(ctx, a.ID, 0)
	require.NoError(t, err)
	require.NoError(t, src.Archive(ctx, b.ID))

	active, err := src.ExportAll(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := src.ExportAll(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, all, 2)

	vec := newFakeVector()
	dst := newTestStore(t, WithVectorIndex(vec))
	n, err := dst.Import(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := dst.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
	assert.NotNil(t, got.LastAccessed)
	assert.Equal(t, 0.7, got.Importance)
	assert.True(t, vec.has("u1", a.ID))

	archived, err := dst.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, archived.ArchivedAt)

	n, err = dst.Import(ctx, all)
	require.NoError(t, err)
	assert.Zero(t, n, "existing ids are skipped")

	_, err = dst.Import(ctx, []model.Entry{{Owner: "u1", Content: "x", Confidence: 3}})
	assert.True(t, model.IsValidation(err))
}
