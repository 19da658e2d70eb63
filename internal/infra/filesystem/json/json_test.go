package json

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteAndReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	w, r := NewWriter(), NewReader()

	require.NoError(t, w.WriteJSON(path, doc{Name: "a", Count: 1}))
	require.NoError(t, w.WriteJSON(path, doc{Name: "b", Count: 2}))

	var got doc
	require.NoError(t, r.ReadJSON(path, &got))
	assert.Equal(t, doc{Name: "b", Count: 2}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestCreateJSON_RefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	w, r := NewWriter(), NewReader()

	require.NoError(t, w.CreateJSON(path, doc{Name: "first"}))

	err := w.CreateJSON(path, doc{Name: "second"})
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrExist)

	var got doc
	require.NoError(t, r.ReadJSON(path, &got))
	assert.Equal(t, "first", got.Name)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadJSON_Missing(t *testing.T) {
	var got doc
	err := NewReader().ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
