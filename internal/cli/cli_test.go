package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memengine/internal/model"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetIn(strings.NewReader(""))
	RootCmd.SetArgs(args)
	require.NoError(t, RootCmd.Execute())
	return out.String()
}

func TestPutSearchExportImport(t *testing.T) {
	t.Setenv("MEMENGINE_EMBED_PROVIDER", "")
	dir := t.TempDir()
	db := filepath.Join(dir, "cli.db")

	out := run(t, "--db", db, "--owner", "alice", "-f", "json", "put", "--tags", "drink, morning", "prefers green tea")
	var created model.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "prefers green tea", created.Content)
	assert.Equal(t, []string{"drink", "morning"}, created.Tags)

	run(t, "--db", db, "--owner", "alice", "-f", "json", "put", "rides a bike to work")

	out = run(t, "--db", db, "--owner", "alice", "-f", "json", "search", "tea")
	var results []struct {
		Entry     model.Entry `json:"entry"`
		Composite float64     `json:"composite"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, created.ID, results[0].Entry.ID)

	out = run(t, "--db", db, "--owner", "alice", "-f", "yaml", "export")
	exported, err := decodeEntries([]byte(out), "yaml")
	require.NoError(t, err)
	require.Len(t, exported, 2)

	file := filepath.Join(dir, "dump.yaml")
	require.NoError(t, os.WriteFile(file, []byte(out), 0o600))
	other := filepath.Join(dir, "other.db")
	out = run(t, "--db", other, "--owner", "alice", "-f", "yaml", "import", file)
	assert.Contains(t, out, `"imported":2`)
}

func TestEncode(t *testing.T) {
	val := map[string]int{"n": 1}

	var buf bytes.Buffer
	require.NoError(t, encode(&buf, "json", val))
	assert.JSONEq(t, `{"n":1}`, buf.String())

	buf.Reset()
	require.NoError(t, encode(&buf, "yaml", val))
	assert.Equal(t, "n: 1\n", buf.String())

	assert.Error(t, encode(&buf, "xml", val))
}

func TestDecodeEntries(t *testing.T) {
	js := `[{"id":"01A","owner":"u","content":"x","type":"fact","confidence":0.5,"importance":0.5,"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z","version":1}]`
	got, err := decodeEntries([]byte(js), "json")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "01A", got[0].ID)

	ym := "- id: 01B\n  owner: u\n  content: y\n  type: goal\n  confidence: 0.7\n  created_at: 2025-01-01T00:00:00Z\n"
	got, err = decodeEntries([]byte(ym), "yaml")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.TypeGoal, got[0].Type)
	assert.Equal(t, 2025, got[0].CreatedAt.Year())

	_, err = decodeEntries([]byte("{"), "json")
	assert.Error(t, err)
}

func TestSplitTagsAndFormat(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitTags(" a, ,b "))
	assert.Nil(t, splitTags(""))
	assert.Equal(t, "yaml", formatFromExt("dump.yml"))
	assert.Equal(t, "json", formatFromExt("dump.txt"))
}
