package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jesseduffield/yaml"
	"github.com/stretchr/testify/require"

	"github.com/fingertip-dev/fingertip/internal/expiration"
	"github.com/fingertip-dev/fingertip/internal/machine"
)

func newMachineAt(t *testing.T, root string) *machine.Machine {
	t.Helper()
	entryDir := filepath.Join(root, "entry")
	require.NoError(t, os.MkdirAll(entryDir, 0o755))
	m := machine.New(entryDir, root, "mock")
	exp, err := expiration.New("1h")
	require.NoError(t, err)
	m.Expiration = exp
	return m
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	root := t.TempDir()
	m := newMachineAt(t, root)
	m.Backend = "qemu"

	require.NoError(t, Save(m))

	loaded, err := Load(m.Path)
	require.NoError(t, err)
	require.Equal(t, "qemu", loaded.Backend)
	require.Equal(t, m.Path, loaded.Path)
	require.Equal(t, m.ParentPath, loaded.ParentPath)
}

func TestLoadDetectsPathMismatchAsCorruption(t *testing.T) {
	root := t.TempDir()
	m := newMachineAt(t, root)
	entryDir := m.Path
	m.Path = filepath.Join(root, "not-the-real-entry-dir")

	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(entryDir, blobName), data, 0o644))

	_, err = Load(entryDir)
	require.Error(t, err)
}

func TestIsFreshReflectsExpiration(t *testing.T) {
	root := t.TempDir()
	m := newMachineAt(t, root)
	require.NoError(t, Save(m))

	fresh, err := IsFresh(m.Path)
	require.NoError(t, err)
	require.True(t, fresh)

	require.NoError(t, m.Expiration.Cap("0"))
	require.NoError(t, Save(m))
	fresh, err = IsFresh(m.Path)
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestCloneIntoPreservesMTime(t *testing.T) {
	root := t.TempDir()
	m := newMachineAt(t, root)
	require.NoError(t, Save(m))

	srcInfo, err := os.Stat(filepath.Join(m.Path, blobName))
	require.NoError(t, err)

	dst := filepath.Join(root, "clone")
	require.NoError(t, CloneInto(m.Path, dst))

	dstInfo, err := os.Stat(filepath.Join(dst, blobName))
	require.NoError(t, err)
	require.WithinDuration(t, srcInfo.ModTime(), dstInfo.ModTime(), time.Second)
}
