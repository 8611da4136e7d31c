package cleanup

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/fingertip-dev/fingertip/internal/expiration"
	"github.com/fingertip-dev/fingertip/internal/machine"
	"github.com/fingertip-dev/fingertip/internal/paths"
	"github.com/fingertip-dev/fingertip/internal/store"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.Out = io.Discard
	return log.WithField("test", true)
}

// makeEntry writes a named cache entry (symlink + real directory + saved
// blob) directly under parent, bypassing the executor so cleanup tests
// don't depend on it.
func makeEntry(t *testing.T, parent, tag string) (linkPath, realDir string) {
	t.Helper()
	realDir = filepath.Join(parent, tag+".abcd1234")
	require.NoError(t, os.MkdirAll(realDir, 0o755))

	m := machine.New(realDir, parent, "mock")
	exp, err := expiration.New("1h")
	require.NoError(t, err)
	m.Expiration = exp
	require.NoError(t, store.Save(m))

	linkPath = filepath.Join(parent, tag)
	require.NoError(t, os.Symlink(realDir, linkPath))
	return linkPath, realDir
}

func TestExpireMachinesRemovesOldEntries(t *testing.T) {
	root := t.TempDir()
	layout, err := paths.NewLayoutAt(root)
	require.NoError(t, err)

	link, real := makeEntry(t, layout.Machines, "osfedora")
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(link, old, old))

	c := New(layout, nil, testLogger())
	freed, err := c.ExpireMachines(24 * time.Hour)
	require.NoError(t, err)
	require.Positive(t, freed)

	_, err = os.Lstat(link)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(real)
	require.True(t, os.IsNotExist(err))
}

func TestExpireMachinesKeepsRecentEntries(t *testing.T) {
	root := t.TempDir()
	layout, err := paths.NewLayoutAt(root)
	require.NoError(t, err)

	link, _ := makeEntry(t, layout.Machines, "osfedora")

	c := New(layout, nil, testLogger())
	freed, err := c.ExpireMachines(24 * time.Hour)
	require.NoError(t, err)
	require.Zero(t, freed)

	_, err = os.Lstat(link)
	require.NoError(t, err)
}

func TestExpireMachinesAllRemovesEverything(t *testing.T) {
	root := t.TempDir()
	layout, err := paths.NewLayoutAt(root)
	require.NoError(t, err)

	link, _ := makeEntry(t, layout.Machines, "osfedora")

	c := New(layout, nil, testLogger())
	_, err = c.ExpireMachines(0)
	require.NoError(t, err)

	_, err = os.Lstat(link)
	require.True(t, os.IsNotExist(err))
}

func TestExpireMachinesDescendsNestedEntries(t *testing.T) {
	root := t.TempDir()
	layout, err := paths.NewLayoutAt(root)
	require.NoError(t, err)

	_, baseReal := makeEntry(t, layout.Machines, "osfedora")
	nestedLink, _ := makeEntry(t, baseReal, "exec:true")
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(nestedLink, old, old))

	c := New(layout, nil, testLogger())
	_, err = c.ExpireMachines(24 * time.Hour)
	require.NoError(t, err)

	_, err = os.Lstat(nestedLink)
	require.True(t, os.IsNotExist(err), "a nested entry must be found and expired too")
}

func TestRemoveLogsDeletesOldFilesOnly(t *testing.T) {
	root := t.TempDir()
	layout, err := paths.NewLayoutAt(root)
	require.NoError(t, err)

	oldFile := filepath.Join(layout.Logs, "old.log")
	newFile := filepath.Join(layout.Logs, "new.log")
	require.NoError(t, os.WriteFile(oldFile, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(newFile, []byte("x"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, old, old))

	c := New(layout, nil, testLogger())
	freed, err := c.RemoveLogs(24 * time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, freed)

	_, err = os.Stat(oldFile)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(newFile)
	require.NoError(t, err)
}

func TestPruneTempfilesRemovesOnlyOldOrphans(t *testing.T) {
	root := t.TempDir()
	layout, err := paths.NewLayoutAt(root)
	require.NoError(t, err)

	// a live, referenced entry must survive
	_, liveReal := makeEntry(t, layout.Machines, "osfedora")

	// an old orphan (no symlink points at it) must be removed
	oldOrphan := filepath.Join(layout.Machines, "osfedora.deadbeef")
	require.NoError(t, os.MkdirAll(oldOrphan, 0o755))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldOrphan, old, old))

	// a fresh orphan (as if mid-build) must survive the grace period
	freshOrphan := filepath.Join(layout.Machines, "osfedora.cafef00d")
	require.NoError(t, os.MkdirAll(freshOrphan, 0o755))

	c := New(layout, nil, testLogger())
	_, err = c.PruneTempfiles(time.Hour)
	require.NoError(t, err)

	_, err = os.Stat(liveReal)
	require.NoError(t, err, "a referenced entry must never be pruned")
	_, err = os.Stat(oldOrphan)
	require.True(t, os.IsNotExist(err), "an old orphan must be pruned")
	_, err = os.Stat(freshOrphan)
	require.NoError(t, err, "a fresh orphan within the grace period must survive")
}

func TestMirrorGCKeepsReferencedRemovesUnreferenced(t *testing.T) {
	root := t.TempDir()
	layout, err := paths.NewLayoutAt(root)
	require.NoError(t, err)

	referencedFile := filepath.Join(layout.Downloads, "referenced.tar")
	unreferencedFile := filepath.Join(layout.Downloads, "unreferenced.tar")
	require.NoError(t, os.WriteFile(referencedFile, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(unreferencedFile, []byte("x"), 0o644))

	_, real := makeEntry(t, layout.Machines, "osfedora")
	m, err := store.Load(real)
	require.NoError(t, err)
	require.NoError(t, m.Expiration.DependOnFile(referencedFile))
	require.NoError(t, store.Save(m))

	c := New(layout, nil, testLogger())
	freed, err := c.MirrorGC()
	require.NoError(t, err)
	require.EqualValues(t, 1, freed)

	_, err = os.Stat(referencedFile)
	require.NoError(t, err, "a file a live entry depends on must survive GC")
	_, err = os.Stat(unreferencedFile)
	require.True(t, os.IsNotExist(err), "an unreferenced download must be collected")
}
