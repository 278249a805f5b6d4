package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "manifest.json")

	value := map[string]any{"b": 2, "a": 1, "nested": map[string]any{"z": 1, "y": 2}}
	require.Nil(t, AtomicWriteJSON(path, value))

	var got map[string]any
	require.Nil(t, ReadJSON(path, &got))
	require.Equal(t, float64(1), got["a"])

	first, err := ReadText(path)
	require.Nil(t, err)
	require.Nil(t, AtomicWriteJSON(path, value))
	second, err := ReadText(path)
	require.Nil(t, err)
	require.Equal(t, first, second, "canonical bytes must be stable across repeated writes")
}

func TestCanonicalizeJSONSortsKeys(t *testing.T) {
	out, err := CanonicalizeJSON(map[string]any{"z": 1, "a": 2})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"z":1}`, string(out))
}

func TestReadJSONNotFound(t *testing.T) {
	var dest map[string]any
	e := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &dest)
	require.NotNil(t, e)
	require.Equal(t, "NOT_FOUND", string(e.Code))
}

func TestWithinRootRejectsEscape(t *testing.T) {
	root := t.TempDir()
	_, e := WithinRoot(root, "../../etc/passwd")
	require.NotNil(t, e)
	require.Equal(t, "PATH_TRAVERSAL", string(e.Code))

	p, e := WithinRoot(root, "manifest.json")
	require.Nil(t, e)
	require.Equal(t, filepath.Join(root, "manifest.json"), p)
}

func TestValidRunID(t *testing.T) {
	require.True(t, ValidRunID("r-1"))
	require.False(t, ValidRunID(""))
	require.False(t, ValidRunID("a/b"))
	require.False(t, ValidRunID("../x"))
}
