// Package store implements serializing and restoring a machine (plus
// its hook registry and backend state) to and from a cache-entry
// directory, and reflink-cloning one cache entry into a fresh scratch
// directory.
package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/jesseduffield/yaml"

	"github.com/fingertip-dev/fingertip/internal/errs"
	"github.com/fingertip-dev/fingertip/internal/machine"
	"github.com/fingertip-dev/fingertip/internal/paths"
)

// blobName is the serialized-machine file inside every cache entry
// directory.
const blobName = "machine.yaml"

// Store implements machine.Persistence against plain directories.
type Store struct{}

// New returns a directory-backed Store.
func New() *Store {
	return &Store{}
}

// Save serializes m to <m.Path>/machine.yaml atomically — the blob
// itself is never observed half-written.
func (s *Store) Save(m *machine.Machine) error {
	return Save(m)
}

// IsFresh loads the machine serialized at dir and reports its freshness
// as of now.
func (s *Store) IsFresh(dir string) (bool, error) {
	return IsFresh(dir)
}

// Save is the free-function form of Store.Save, usable directly by
// callers that don't need the Persistence interface (e.g. the build path
// before a machine has a finalize target).
func Save(m *machine.Machine) error {
	return SaveAt(m, m.Path)
}

// SaveAt serializes m to <dir>/machine.yaml, independently of m.Path.
// Finalize needs this: it stamps m.Path to the entry's future directory
// name before the rename that gives that directory its final location, so
// the blob written alongside the old directory's other files already
// embeds the new path, and the subsequent rename doesn't leave it stale.
func (s *Store) SaveAt(m *machine.Machine, dir string) error {
	return SaveAt(m, dir)
}

func SaveAt(m *machine.Machine, dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(dir, blobName), data, 0o644)
}

// LoadRaw deserializes the machine at dir without validating Path/ParentPath
// against dir's real location. Used only by internal/executor's
// clone_and_load step, where a reflink-copied blob still embeds its source
// location and must be loaded before those fields are overwritten and the
// entry is re-saved; every other caller wants Load's consistency check.
func LoadRaw(dir string) (*machine.Machine, error) {
	data, err := os.ReadFile(filepath.Join(dir, blobName))
	if err != nil {
		return nil, err
	}
	m := &machine.Machine{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errs.CacheCorruption("store: unmarshal %s: %v", dir, err)
	}
	return m, nil
}

// Load deserializes the machine at dir and validates its consistency:
// the loaded Path must equal dir, and ParentPath must equal dir's real
// parent directory. A mismatch is a fatal CacheCorruption.
func Load(dir string) (*machine.Machine, error) {
	m, err := LoadRaw(dir)
	if err != nil {
		return nil, err
	}

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, errs.CacheCorruption("store: resolve %s: %v", dir, err)
	}
	realParent, err := filepath.EvalSymlinks(filepath.Dir(realDir))
	if err != nil {
		return nil, errs.CacheCorruption("store: resolve parent of %s: %v", dir, err)
	}

	if m.Path != "" && m.Path != realDir {
		return nil, errs.CacheCorruption("store: %s embeds path %q, want %q", dir, m.Path, realDir)
	}
	if m.ParentPath != "" && m.ParentPath != realParent {
		return nil, errs.CacheCorruption("store: %s embeds parentPath %q, want %q", dir, m.ParentPath, realParent)
	}

	m.Path = realDir
	m.ParentPath = realParent
	return m, nil
}

// IsFresh is the free-function form of Store.IsFresh.
func IsFresh(dir string) (bool, error) {
	m, err := Load(dir)
	if err != nil {
		return false, err
	}
	return m.Expiration.IsFresh(time.Now()), nil
}

// CloneInto reflink-copies the cache entry at srcDir into a fresh
// dstDir, preserving mtimes (expiration freshness depends on them
// staying put across a clone) and linking files via reflink where the
// filesystem supports it; otherwise their contents are copied.
func CloneInto(srcDir, dstDir string) error {
	return paths.ReflinkCopy(srcDir, dstDir, true)
}
