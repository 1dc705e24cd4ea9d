package sqlite

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONLSkipsEmptyAndMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.jsonl")
	writeFile(t, path, "{\"id\":1}\n\nnot json\n{\"id\":2}\n")

	records, err := readJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.JSONEq(t, `{"id":2}`, string(records[1]))
}

func TestReadJSONLMissingFile(t *testing.T) {
	_, err := readJSONL(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestWriteJSONLAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.jsonl")
	writeFile(t, path, "old\n")

	err := writeJSONL(path, []json.RawMessage{json.RawMessage(`{"a":1}`), json.RawMessage(`{"b":2}`)})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestInitJSONLFileKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, initJSONLFile(dir, "fresh"))
	info, err := os.Stat(collectionPath(dir, "fresh"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	writeFile(t, collectionPath(dir, "kept"), "{\"id\":1}\n")
	require.NoError(t, initJSONLFile(dir, "kept"))
	records, err := readJSONL(collectionPath(dir, "kept"))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
