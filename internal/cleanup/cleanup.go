// Package cleanup implements the garbage-collection subcommands:
// expiring named cache entries by age, removing stale download/log
// files, pruning orphaned scratch directories left behind by a crashed
// build, and collecting download-mirror files no live entry depends on
// any more. Each subcommand returns the number of bytes it reclaimed,
// for the CLI's freed-space summary (internal/humanize).
package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/fingertip-dev/fingertip/internal/index"
	"github.com/fingertip-dev/fingertip/internal/lockset"
	"github.com/fingertip-dev/fingertip/internal/paths"
	"github.com/fingertip-dev/fingertip/internal/store"
)

// Cleaner runs the garbage-collection subcommands against one cache
// layout. Every subcommand walks the filesystem directly; Index is
// optional and, when set, only has each removed entry's key deleted from
// it. No subcommand reads the index.
type Cleaner struct {
	Layout      *paths.Layout
	Index       *index.Index
	Log         *logrus.Entry
	LockTimeout time.Duration
}

// New builds a Cleaner.
func New(layout *paths.Layout, ix *index.Index, log *logrus.Entry) *Cleaner {
	return &Cleaner{Layout: layout, Index: ix, Log: log}
}

func (c *Cleaner) logErr(path string, err error) {
	c.Log.WithError(err).WithField("path", path).Warn("cleanup: skipping entry")
}

// namedEntry is one resolved tag symlink found while walking the cache
// tree. Tags nest arbitrarily deep (an apply step's entry lives inside
// its parent's directory), so every walk here is recursive.
type namedEntry struct {
	Parent   string
	Tag      string
	LinkPath string
	RealDir  string
	ModTime  time.Time
}

func (c *Cleaner) collectNamedEntries(dir string, out *[]namedEntry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		info, err := os.Lstat(full)
		if err != nil {
			c.logErr(full, err)
			continue
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		real, err := filepath.EvalSymlinks(full)
		if err != nil {
			c.logErr(full, err)
			continue
		}
		realInfo, err := os.Stat(real)
		if err != nil {
			c.logErr(full, err)
			continue
		}
		*out = append(*out, namedEntry{Parent: dir, Tag: name, LinkPath: full, RealDir: real, ModTime: realInfo.ModTime()})
		if err := c.collectNamedEntries(real, out); err != nil {
			c.logErr(real, err)
		}
	}
	return nil
}

// ExpireMachines removes every named cache entry whose real directory (the
// symlink's target) was last modified more than maxAge ago; maxAge <= 0
// means "all". It returns the total size of the
// directories removed, for the CLI's freed-space summary.
func (c *Cleaner) ExpireMachines(maxAge time.Duration) (int64, error) {
	var all []namedEntry
	if err := c.collectNamedEntries(c.Layout.Machines, &all); err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	victims := lo.Filter(all, func(e namedEntry, _ int) bool {
		return maxAge <= 0 || e.ModTime.Before(cutoff)
	})
	var freed int64
	for _, e := range victims {
		freed += c.removeEntry(e.Parent, e.Tag, e.LinkPath, e.RealDir)
	}
	return freed, nil
}

// removeEntry deletes one named entry's symlink and the real directory
// it points at, holding that entry's build lock first. A symlink is
// unlinked; the real directory is removed recursively. Failures are
// logged and the next entry is tried; one bad entry must not abort the
// sweep. Returns the number of bytes reclaimed.
func (c *Cleaner) removeEntry(parent, tag, linkPath, realDir string) int64 {
	lock := lockset.New(c.Layout.LockFile(parent, tag))
	if err := lock.Acquire(c.LockTimeout); err != nil {
		c.logErr(linkPath, err)
		return 0
	}
	defer lock.Release()

	size := dirSize(realDir)

	if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
		c.logErr(linkPath, err)
		return 0
	}
	if err := os.RemoveAll(realDir); err != nil {
		c.logErr(realDir, err)
		return 0
	}
	if c.Index != nil {
		if err := c.Index.Delete(realDir); err != nil {
			c.logErr(realDir, err)
		}
	}
	return size
}

// dirSize sums the size of every regular file under dir, skipping
// anything it can't stat rather than failing the whole sweep over it.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// removeFilesByAge deletes regular files directly under dir whose mtime
// is older than maxAge, returning the total bytes reclaimed. Used by
// RemoveLogs/RemoveDownloads.
func (c *Cleaner) removeFilesByAge(dir string, maxAge time.Duration) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	var freed int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			c.logErr(filepath.Join(dir, e.Name()), err)
			continue
		}
		if info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		full := filepath.Join(dir, e.Name())
		if err := os.Remove(full); err != nil {
			c.logErr(full, err)
			continue
		}
		freed += info.Size()
	}
	return freed, nil
}

// RemoveLogs deletes persisted run logs older than maxAge.
func (c *Cleaner) RemoveLogs(maxAge time.Duration) (int64, error) {
	return c.removeFilesByAge(c.Layout.Logs, maxAge)
}

// RemoveDownloads deletes download-mirror files older than maxAge,
// regardless of whether anything still references them — the blunt,
// age-only half of download cleanup; MirrorGC is the reference-aware
// half.
func (c *Cleaner) RemoveDownloads(maxAge time.Duration) (int64, error) {
	return c.removeFilesByAge(c.Layout.Downloads, maxAge)
}

// PruneTempfiles removes directories under machines/ that no symlink
// currently references — the scratch directories of crashed or
// interrupted builds. minAge is a grace period: a build in flight has no
// symlink pointing at its scratch directory until finalize runs, so an
// orphan younger than minAge is assumed live and left alone.
func (c *Cleaner) PruneTempfiles(minAge time.Duration) (int64, error) {
	live := map[string]bool{}
	c.collectLive(c.Layout.Machines, live)
	var freed int64
	err := c.pruneOrphans(c.Layout.Machines, live, minAge, &freed)
	return freed, err
}

func (c *Cleaner) collectLive(dir string, live map[string]bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.logErr(dir, err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		info, err := os.Lstat(full)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		real, err := filepath.EvalSymlinks(full)
		if err != nil {
			continue
		}
		live[real] = true
		c.collectLive(real, live)
	}
}

func (c *Cleaner) pruneOrphans(dir string, live map[string]bool, minAge time.Duration, freed *int64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-minAge)
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		info, err := e.Info()
		if err != nil {
			c.logErr(full, err)
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
			continue
		}
		if live[full] {
			if err := c.pruneOrphans(full, live, minAge, freed); err != nil {
				c.logErr(full, err)
			}
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		size := dirSize(full)
		if err := os.RemoveAll(full); err != nil {
			c.logErr(full, err)
			continue
		}
		*freed += size
	}
	return nil
}

// MirrorGC removes downloaded mirror files that no live cache entry's
// Expiration still lists as a file dependency: a downloaded source file
// only earns its keep while some entry's freshness still depends on it.
func (c *Cleaner) MirrorGC() (int64, error) {
	referenced := map[string]bool{}
	if err := c.collectReferencedFiles(c.Layout.Machines, referenced); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(c.Layout.Downloads)
	if err != nil {
		return 0, err
	}
	var freed int64
	for _, e := range entries {
		full := filepath.Join(c.Layout.Downloads, e.Name())
		if referenced[full] {
			continue
		}
		size := dirSize(full)
		if err := os.RemoveAll(full); err != nil {
			c.logErr(full, err)
			continue
		}
		freed += size
	}
	return freed, nil
}

func (c *Cleaner) collectReferencedFiles(dir string, referenced map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		info, err := os.Lstat(full)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		real, err := filepath.EvalSymlinks(full)
		if err != nil {
			c.logErr(full, err)
			continue
		}
		if m, err := store.Load(real); err == nil {
			for path := range m.Expiration.Files {
				referenced[path] = true
			}
		}
		if err := c.collectReferencedFiles(real, referenced); err != nil {
			c.logErr(real, err)
		}
	}
	return nil
}
