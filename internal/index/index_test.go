package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.bbolt"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestPutGetRoundTrips(t *testing.T) {
	ix := openTestIndex(t)
	deadline := time.Now().Add(time.Hour).Truncate(time.Second)

	require.NoError(t, ix.Put("os.fedora", Metadata{EntryDir: "/cache/os.fedora.ab12", Deadline: deadline}))

	meta, found, err := ix.Get("os.fedora")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/cache/os.fedora.ab12", meta.EntryDir)
	require.True(t, deadline.Equal(meta.Deadline))
}

func TestGetMissingTagNotFound(t *testing.T) {
	ix := openTestIndex(t)
	_, found, err := ix.Get("missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeleteRemovesEntry(t *testing.T) {
	ix := openTestIndex(t)
	require.NoError(t, ix.Put("tag", Metadata{EntryDir: "dir"}))
	require.NoError(t, ix.Delete("tag"))

	_, found, err := ix.Get("tag")
	require.NoError(t, err)
	require.False(t, found)
}

func TestAllListsEveryEntry(t *testing.T) {
	ix := openTestIndex(t)
	require.NoError(t, ix.Put("a", Metadata{EntryDir: "dira"}))
	require.NoError(t, ix.Put("b", Metadata{EntryDir: "dirb"}))

	all, err := ix.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "dira", all["a"].EntryDir)
}
