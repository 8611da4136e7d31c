package expiration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"0":   0,
		"30m": 30 * time.Minute,
		"4h":  4 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestParseIntervalRejectsGarbage(t *testing.T) {
	_, err := ParseInterval("banana")
	require.Error(t, err)
}

func TestIsFreshDeadline(t *testing.T) {
	e, err := New("0")
	require.NoError(t, err)
	require.False(t, e.IsFresh(time.Now()))

	e, err = New("1h")
	require.NoError(t, err)
	require.True(t, e.IsFresh(time.Now()))
}

func TestCapLowersDeadlineMonotonically(t *testing.T) {
	e, err := New("7d")
	require.NoError(t, err)
	originalDeadline := e.Deadline

	require.NoError(t, e.Cap("1h"))
	require.True(t, e.Deadline.Before(originalDeadline))

	capped := e.Deadline
	require.NoError(t, e.Cap("7d"))
	require.Equal(t, capped, e.Deadline, "cap must never extend the deadline")
}

func TestDependOnFileDetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "setup.sh")
	require.NoError(t, os.WriteFile(path, []byte("echo hi"), 0o644))

	e, err := New("1h")
	require.NoError(t, err)
	require.NoError(t, e.DependOnFile(path))
	require.True(t, e.IsFresh(time.Now()))

	mtime := e.Files[path].MTime

	// content changes, mtime preserved: must be detected via digest.
	require.NoError(t, os.WriteFile(path, []byte("echo changed"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	require.False(t, e.IsFresh(time.Now()))
}

func TestIgnoreCodeChangesKillSwitch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "setup.sh")
	require.NoError(t, os.WriteFile(path, []byte("echo hi"), 0o644))

	e, err := New("1h")
	require.NoError(t, err)
	require.NoError(t, e.DependOnFile(path))

	require.NoError(t, os.WriteFile(path, []byte("echo changed"), 0o644))

	t.Setenv(EnvIgnoreCodeChanges, "1")
	require.True(t, e.IsFresh(time.Now()))
}

func TestDependOnLoadedModulesIsBestEffort(t *testing.T) {
	e, err := New("1h")
	require.NoError(t, err)
	require.NoError(t, e.DependOnLoadedModules())
}
