package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemIndex_UpsertQuery(t *testing.T) {
	ctx := context.Background()
	x := NewChromemIndex(nil)

	require.NoError(t, x.Upsert(ctx, "u1", "a", []float32{1, 0, 0}))
	require.NoError(t, x.Upsert(ctx, "u1", "b", []float32{0.9, 0.1, 0}))
	require.NoError(t, x.Upsert(ctx, "u1", "c", []float32{0, 1, 0}))
	require.NoError(t, x.Upsert(ctx, "u2", "d", []float32{1, 0, 0}))

	hits, err := x.Query(ctx, "u1", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3, "limit is clamped to collection size")
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, "b", hits[1].ID)
	assert.Equal(t, "c", hits[2].ID)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-5)

	assert.Equal(t, 3, x.Count("u1"))
	assert.Equal(t, 1, x.Count("u2"))
}

func TestChromemIndex_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	x := NewChromemIndex(nil)

	require.NoError(t, x.Upsert(ctx, "u", "a", []float32{1, 0}))
	require.NoError(t, x.Upsert(ctx, "u", "a", []float32{0, 1}))
	assert.Equal(t, 1, x.Count("u"))

	hits, err := x.Query(ctx, "u", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestChromemIndex_Remove(t *testing.T) {
	ctx := context.Background()
	x := NewChromemIndex(nil)

	require.NoError(t, x.Upsert(ctx, "u", "a", []float32{1, 0}))
	require.NoError(t, x.Upsert(ctx, "u", "b", []float32{0, 1}))
	require.NoError(t, x.Remove(ctx, "u", "a"))
	assert.Equal(t, 1, x.Count("u"))

	// unknown owner is a no-op
	require.NoError(t, x.Remove(ctx, "nobody", "a"))
}

func TestChromemIndex_EmptyOwner(t *testing.T) {
	x := NewChromemIndex(nil)
	hits, err := x.Query(context.Background(), "missing", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, x.Count("missing"))
}

func TestChromemIndex_Validation(t *testing.T) {
	x := NewChromemIndex(nil)
	assert.Error(t, x.Upsert(context.Background(), "u", "", []float32{1}))
	assert.Error(t, x.Upsert(context.Background(), "u", "a", nil))
}
