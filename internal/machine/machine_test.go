package machine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fingertip-dev/fingertip/internal/hooks"
)

type fakePersistence struct {
	saved   []string
	fresh   map[string]bool
	saveErr error
}

func (f *fakePersistence) Save(m *Machine) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, m.Path)
	return nil
}

func (f *fakePersistence) SaveAt(m *Machine, dir string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, dir)
	return nil
}

func (f *fakePersistence) IsFresh(dir string) (bool, error) {
	if fresh, ok := f.fresh[dir]; ok {
		return fresh, nil
	}
	return false, errors.New("not found")
}

func noopDispatch(_ *hooks.Context, _ hooks.Descriptor) error { return nil }

func TestEnterFirstTimeRequiresLoaded(t *testing.T) {
	m := New(t.TempDir(), t.TempDir(), "mock")
	require.NoError(t, m.Enter(noopDispatch))
	require.Equal(t, StateSpunUp, m.State)
	require.Equal(t, 1, m.UpCounter)
}

func TestEnterRejectsNonLoadedFirstEntry(t *testing.T) {
	m := New(t.TempDir(), t.TempDir(), "mock")
	m.State = StateDropped
	require.Error(t, m.Enter(noopDispatch))
}

func TestReentrantEnterIncrementsCounter(t *testing.T) {
	m := New(t.TempDir(), t.TempDir(), "mock")
	require.NoError(t, m.Enter(noopDispatch))
	require.NoError(t, m.Enter(noopDispatch))
	require.Equal(t, 2, m.UpCounter)
	require.Equal(t, StateSpunUp, m.State)
}

func TestExitWithoutFinalizeGoesSpunDown(t *testing.T) {
	m := New(t.TempDir(), t.TempDir(), "mock")
	require.NoError(t, m.Enter(noopDispatch))
	require.NoError(t, m.Exit(noopDispatch, &fakePersistence{}, nil, "tag"))
	require.Equal(t, StateSpunDown, m.State)
}

func TestExitOnErrorDrops(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, t.TempDir(), "mock")
	require.NoError(t, m.Enter(noopDispatch))
	require.NoError(t, m.Exit(noopDispatch, &fakePersistence{}, errors.New("boom"), "tag"))
	require.Equal(t, StateDropped, m.State)
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err), "scratch directory must be removed on drop")
}

func TestExitFinalizesWhenLinkTargetSetAndNoError(t *testing.T) {
	root := t.TempDir()
	scratch := filepath.Join(root, "scratch")
	require.NoError(t, os.MkdirAll(scratch, 0o755))

	m := New(scratch, root, "mock")
	m.LinkTarget = filepath.Join(root, "mytag")
	require.NoError(t, m.Enter(noopDispatch))

	p := &fakePersistence{fresh: map[string]bool{}}
	require.NoError(t, m.Exit(noopDispatch, p, nil, "mytag"))

	require.Equal(t, StateSaving, m.State)
	require.Len(t, p.saved, 1)

	target, err := os.Readlink(m.LinkTarget)
	require.NoError(t, err)
	require.Equal(t, m.Path, target)
}

func TestFinalizeRefusesFreshDestination(t *testing.T) {
	root := t.TempDir()
	scratch := filepath.Join(root, "scratch")
	require.NoError(t, os.MkdirAll(scratch, 0o755))
	linkTarget := filepath.Join(root, "mytag")

	m := New(scratch, root, "mock")
	m.State = StateSpunDown

	p := &fakePersistence{fresh: map[string]bool{linkTarget: true}}
	err := m.Finalize(noopDispatch, p, linkTarget, "mytag")
	require.Error(t, err)
}

func TestTransientExitDiscardsAndPointsAtParent(t *testing.T) {
	root := t.TempDir()
	scratch := filepath.Join(root, "scratch")
	require.NoError(t, os.MkdirAll(scratch, 0o755))

	m := New(scratch, root, "mock")
	m.Transient = true
	m.LinkTarget = filepath.Join(root, "mytag")
	require.NoError(t, m.Enter(noopDispatch))

	p := &fakePersistence{}
	require.NoError(t, m.Exit(noopDispatch, p, nil, "mytag"))

	require.Equal(t, StateDropped, m.State)
	_, err := os.Stat(scratch)
	require.True(t, os.IsNotExist(err))

	target, err := os.Readlink(m.LinkTarget)
	require.NoError(t, err)
	require.Equal(t, root, target)
}

func TestDoubleExitWithoutEnterIsViolation(t *testing.T) {
	m := New(t.TempDir(), t.TempDir(), "mock")
	require.Error(t, m.Exit(noopDispatch, &fakePersistence{}, nil, "tag"))
}
