package persist

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/dap-relay/errdefs"
)

// TestProjectIDStable verifies the project hash is 16 hex chars and
// stable across calls.
func TestProjectIDStable(t *testing.T) {
	dir := t.TempDir()

	id := ProjectID(dir)
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), id)
	require.Equal(t, id, ProjectID(dir))
	require.NotEqual(t, id, ProjectID(t.TempDir()))
}

// TestAtomicWriteRoundTrip verifies a written document reads back equal
// and leaves no tmp file behind.
func TestAtomicWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	in := map[string]any{"hello": "world", "n": float64(3)}
	require.NoError(t, atomicWrite(path, in))

	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))

	var out map[string]any
	found, err := readJSON(path, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in, out)
}

// TestReadMissingFile verifies absence reads as (false, nil).
func TestReadMissingFile(t *testing.T) {
	var out map[string]any
	found, err := readJSON(filepath.Join(t.TempDir(), "nope.json"), &out)
	require.NoError(t, err)
	require.False(t, found)
}

// TestReadMalformedFile verifies corruption surfaces as PERSIST_INVALID
// rather than being silently wiped.
func TestReadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	var out map[string]any
	_, err := readJSON(path, &out)
	require.Error(t, err)
	require.Equal(t, errdefs.CodePersistInvalid, errdefs.Code(err))

	// The file is still on disk for inspection.
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

// TestDeleteFile verifies delete is best-effort and reports existence.
func TestDeleteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	require.True(t, deleteFile(path))
	require.False(t, deleteFile(path))
}

// TestListJSONFiles verifies only .json entries are listed and a missing
// directory lists empty.
func TestListJSONFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))

	paths := listJSONFiles(dir)
	require.Len(t, paths, 1)
	require.Equal(t, filepath.Join(dir, "a.json"), paths[0])

	require.Empty(t, listJSONFiles(filepath.Join(dir, "missing")))
}
