package consolidate

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memengine/internal/index"
	"github.com/rcliao/memengine/internal/model"
	"github.com/rcliao/memengine/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T, opts ...store.Option) (*store.SQLiteStore, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)}
	opts = append(opts, store.WithClock(c.Now))
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "c.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, c
}

// at returns a unit vector at the given cosine from [1, 0].
func at(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func TestFindSimilarPairsScenario(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)

	a, err := s.Create(ctx, store.CreateParams{Owner: "u", Content: "likes tea", Embedding: at(1)})
	require.NoError(t, err)
	c.Advance(10 * 24 * time.Hour)
	b, err := s.Create(ctx, store.CreateParams{Owner: "u", Content: "enjoys tea", Embedding: at(0.9)})
	require.NoError(t, err)

	d := NewDetector(s, WithClock(c.Now))
	p := DefaultParams()
	pairs, err := d.FindSimilarPairs(ctx, "u", p)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, a.ID, pairs[0].A.ID)
	assert.Equal(t, b.ID, pairs[0].B.ID)
	assert.InDelta(t, 0.9, pairs[0].Similarity, 1e-5)

	// A lookback that excludes the older entry leaves no pairs.
	p.LookbackDays = 5
	pairs, err = d.FindSimilarPairs(ctx, "u", p)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestFindSimilarPairsFilters(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)

	s.Create(ctx, store.CreateParams{Owner: "u", Content: "a", Embedding: at(1)})
	arch, _ := s.Create(ctx, store.CreateParams{Owner: "u", Content: "archived twin", Embedding: at(1)})
	require.NoError(t, s.Archive(ctx, arch.ID))
	s.Create(ctx, store.CreateParams{Owner: "other", Content: "other owner twin", Embedding: at(1)})
	s.Create(ctx, store.CreateParams{Owner: "u", Content: "no embedding"})
	s.Create(ctx, store.CreateParams{Owner: "u", Content: "far", Embedding: at(0.2)})

	pairs, err := NewDetector(s, WithClock(c.Now)).FindSimilarPairs(ctx, "u", DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestFindSimilarPairsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)

	var ids []string
	for _, cos := range []float64{1, 0.99, 0.95, 0.9} {
		e, err := s.Create(ctx, store.CreateParams{Owner: "u", Content: "x", Embedding: at(cos)})
		require.NoError(t, err)
		ids = append(ids, e.ID)
		c.Advance(time.Second)
	}

	d := NewDetector(s, WithClock(c.Now))
	pairs, err := d.FindSimilarPairs(ctx, "u", Params{MinSimilarity: 0.85, Limit: 0, LookbackDays: 90})
	require.NoError(t, err)
	require.Len(t, pairs, 6)
	for i := 1; i < len(pairs); i++ {
		assert.GreaterOrEqual(t, pairs[i-1].Similarity, pairs[i].Similarity)
	}
	for _, p := range pairs {
		assert.Less(t, p.A.ID, p.B.ID)
	}

	limited, err := d.FindSimilarPairs(ctx, "u", Params{MinSimilarity: 0.85, Limit: 2, LookbackDays: 90})
	require.NoError(t, err)
	assert.Equal(t, pairs[:2], limited)
}

func TestFindSimilarPairsPrefilter(t *testing.T) {
	ctx := context.Background()
	vec := index.NewChromemIndex(nil)
	s, c := setup(t, store.WithVectorIndex(vec))

	for _, cos := range []float64{1, 0.98, 0.9, 0.5, 0.1, 0.0} {
		_, err := s.Create(ctx, store.CreateParams{Owner: "u", Content: "x", Embedding: at(cos)})
		require.NoError(t, err)
	}

	p := Params{MinSimilarity: 0.85, Limit: 20, LookbackDays: 90}
	full, err := NewDetector(s, WithClock(c.Now)).FindSimilarPairs(ctx, "u", p)
	require.NoError(t, err)
	pre, err := NewDetector(s, WithClock(c.Now), WithPrefilter(vec, 2, 5)).FindSimilarPairs(ctx, "u", p)
	require.NoError(t, err)

	require.Len(t, pre, len(full))
	for i := range full {
		assert.Equal(t, full[i].A.ID, pre[i].A.ID)
		assert.Equal(t, full[i].B.ID, pre[i].B.ID)
		assert.InDelta(t, full[i].Similarity, pre[i].Similarity, 1e-9)
	}
}

// deg returns the unit vector at the given angle in degrees.
func deg(d float64) []float32 {
	r := d * math.Pi / 180
	return []float32{float32(math.Cos(r)), float32(math.Sin(r))}
}

func TestFindSimilarPairsPrefilterIgnoresOldNeighbours(t *testing.T) {
	ctx := context.Background()
	vec := index.NewChromemIndex(nil)
	s, c := setup(t, store.WithVectorIndex(vec))

	// Older memories sit between the two recent ones and are nearer to
	// each of them than they are to one another.
	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, store.CreateParams{Owner: "u", Content: "old", Embedding: deg(0)})
		require.NoError(t, err)
	}
	c.Advance(120 * 24 * time.Hour)
	a, err := s.Create(ctx, store.CreateParams{Owner: "u", Content: "a", Embedding: deg(10)})
	require.NoError(t, err)
	b, err := s.Create(ctx, store.CreateParams{Owner: "u", Content: "b", Embedding: deg(-10)})
	require.NoError(t, err)

	d := NewDetector(s, WithClock(c.Now), WithPrefilter(vec, 1, 2))
	pairs, err := d.FindSimilarPairs(ctx, "u", Params{MinSimilarity: 0.9, Limit: 20, LookbackDays: 90})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{pairs[0].A.ID, pairs[0].B.ID})
	assert.InDelta(t, math.Cos(20*math.Pi/180), pairs[0].Similarity, 1e-5)
}

type brokenVector struct{ index.Vector }

func (brokenVector) Count(string) int { return 0 }

func (brokenVector) Query(context.Context, string, []float32, int) ([]index.Hit, error) {
	return nil, errors.New("down")
}

func TestFindSimilarPairsPrefilterFallback(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)
	s.Create(ctx, store.CreateParams{Owner: "u", Content: "a", Embedding: at(1)})
	s.Create(ctx, store.CreateParams{Owner: "u", Content: "b", Embedding: at(0.95)})

	d := NewDetector(s, WithClock(c.Now), WithPrefilter(brokenVector{}, 1, 5))
	pairs, err := d.FindSimilarPairs(ctx, "u", DefaultParams())
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestFindSimilarPairsValidation(t *testing.T) {
	s, _ := setup(t)
	d := NewDetector(s)
	ctx := context.Background()

	_, err := d.FindSimilarPairs(ctx, "", DefaultParams())
	assert.True(t, model.IsValidation(err))
	_, err = d.FindSimilarPairs(ctx, "u", Params{MinSimilarity: 1.5})
	assert.True(t, model.IsValidation(err))
	_, err = d.FindSimilarPairs(ctx, "u", Params{MinSimilarity: 0.5, Limit: -1})
	assert.True(t, model.IsValidation(err))
}
