package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 0.3, cfg.Retrieval.LexicalWeight)
	assert.Equal(t, 0.1, cfg.Retrieval.BoostWeight)
	assert.Equal(t, 7*24*time.Hour, cfg.Retrieval.RecentWindow)
	assert.Equal(t, 30*24*time.Hour, cfg.Retrieval.WarmWindow)
	assert.Equal(t, 10, cfg.Retrieval.Limit)
	assert.Equal(t, 0.2, cfg.Retrieval.MinConfidence)
	assert.Equal(t, 0.05, cfg.Retrieval.MinScore)

	assert.Equal(t, 30, cfg.Decay.ThresholdDays)
	assert.Equal(t, 0.05, cfg.Decay.Amount)
	assert.Equal(t, 0.1, cfg.Decay.MinConfidence)
	assert.Equal(t, 0.15, cfg.Decay.ArchiveThreshold)
	assert.Equal(t, "@daily", cfg.Decay.Schedule)

	assert.Equal(t, 0.85, cfg.Consolidation.MinSimilarity)
	assert.Equal(t, 20, cfg.Consolidation.Limit)
	assert.Equal(t, 90, cfg.Consolidation.LookbackDays)
	assert.Empty(t, cfg.Embed.Provider)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MEMENGINE_DECAY_THRESHOLD_DAYS", "14")
	t.Setenv("MEMENGINE_RETRIEVAL_MIN_CONFIDENCE", "0.3")
	t.Setenv("MEMENGINE_DB", "/tmp/x.db")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.Decay.ThresholdDays)
	assert.Equal(t, 0.3, cfg.Retrieval.MinConfidence)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
decay:
  amount: 0.1
  schedule: "0 3 * * *"
consolidation:
  min_similarity: 0.9
`), 0o600))

	v := New()
	require.NoError(t, ReadFile(v, path, true))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.Decay.Amount)
	assert.Equal(t, "0 3 * * *", cfg.Decay.Schedule)
	assert.Equal(t, 0.9, cfg.Consolidation.MinSimilarity)
}

func TestReadFileMissing(t *testing.T) {
	v := New()
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	assert.NoError(t, ReadFile(v, missing, false))
	assert.Error(t, ReadFile(v, missing, true))
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	v := New()
	v.Set(KeyMinConfidence, 1.5)
	_, err := Load(v)
	assert.Error(t, err)

	v = New()
	v.Set(KeyEmbedProvider, "word2vec")
	_, err = Load(v)
	assert.Error(t, err)

	v = New()
	v.Set(KeyCandidateFactor, 0)
	_, err = Load(v)
	assert.Error(t, err)
}
