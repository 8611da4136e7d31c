// Package paths lays out the fixed cache-root directory structure and
// implements reflink-aware copy-on-write file copying.
package paths

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/OpenPeeDeeP/xdg"
)

// Layout is the fixed on-disk structure under the cache root:
//
//	machines/   cache entries and build locks
//	downloads/  HTTP+git mirror caches
//	logs/       persisted run logs
//	shared/     9p guest mount
//	cow.xfs.img reserved backing file for the loop-mounted CoW filesystem
type Layout struct {
	Root      string
	Machines  string
	Downloads string
	Logs      string
	Shared    string
	CowImage  string
}

// envCacheDir, when set, overrides the xdg-derived cache root — an escape
// hatch for tests and containerized runs.
const envCacheDir = "FINGERTIP_CACHE_DIR"

// NewLayout resolves (and creates) the cache-root layout under the user
// cache directory, e.g. ~/.cache/fingertip on Linux.
func NewLayout() (*Layout, error) {
	root := os.Getenv(envCacheDir)
	if root == "" {
		dirs := xdg.New("", "fingertip")
		root = dirs.CacheHome()
	}
	return NewLayoutAt(root)
}

// NewLayoutAt builds the layout rooted at an explicit directory — used by
// NewLayout and directly by tests that want an ephemeral root.
func NewLayoutAt(root string) (*Layout, error) {
	l := &Layout{
		Root:      root,
		Machines:  filepath.Join(root, "machines"),
		Downloads: filepath.Join(root, "downloads"),
		Logs:      filepath.Join(root, "logs"),
		Shared:    filepath.Join(root, "shared"),
		CowImage:  filepath.Join(root, "cow.xfs.img"),
	}
	for _, dir := range []string{l.Machines, l.Downloads, l.Logs, l.Shared} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return l, nil
}

// LockFile returns the path of the build lock beside a cache entry tag.
func (l *Layout) LockFile(parent, tag string) string {
	return filepath.Join(parent, "."+tag+"-lock")
}

// EntryPath returns the canonical (possibly symlinked) cache-entry path for
// a tag under parent.
func (l *Layout) EntryPath(parent, tag string) string {
	return filepath.Join(parent, tag)
}

// SupportsReflink reports whether dir's filesystem honors CoW reflink
// copies. Detection performs a trial reflink of a throwaway file in dir;
// any error whose message contains "Operation not supported" is treated as
// a definitive negative.
func SupportsReflink(dir string) bool {
	srcF, err := os.CreateTemp(dir, ".reflink-probe-src-*")
	if err != nil {
		return false
	}
	srcPath := srcF.Name()
	srcF.Close()
	defer os.Remove(srcPath)

	dstPath := srcPath + ".dst"
	defer os.Remove(dstPath)

	err = reflinkCopyFile(srcPath, dstPath)
	if err == nil {
		return true
	}
	return !strings.Contains(err.Error(), "Operation not supported")
}

// ReflinkCopy performs an O(1) copy-on-write copy of src to dst when the
// underlying filesystem supports it, falling back to a byte-for-byte copy
// otherwise. If preserveMetadata is true, file mode and mtimes are copied
// across (matters when cloning a serialized machine directory, whose
// Expiration depends on source-file mtimes staying put).
func ReflinkCopy(src, dst string, preserveMetadata bool) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return reflinkCopyDir(src, dst, preserveMetadata)
	}
	return reflinkCopyFileWithFallback(src, dst, preserveMetadata)
}

func reflinkCopyDir(src, dst string, preserveMetadata bool) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.Type()&os.ModeSymlink != 0 {
			target, err := os.Readlink(srcPath)
			if err != nil {
				return err
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return err
			}
			continue
		}
		if entry.IsDir() {
			if err := reflinkCopyDir(srcPath, dstPath, preserveMetadata); err != nil {
				return err
			}
			continue
		}
		if err := reflinkCopyFileWithFallback(srcPath, dstPath, preserveMetadata); err != nil {
			return err
		}
	}
	return nil
}

func reflinkCopyFileWithFallback(src, dst string, preserveMetadata bool) error {
	if err := reflinkCopyFile(src, dst); err != nil {
		if cerr := fullCopyFile(src, dst); cerr != nil {
			return cerr
		}
	}
	if !preserveMetadata {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// RandomSuffix returns a short hex string suitable for disambiguating
// cache-entry directory names, e.g. "<tag>.<suffix>" under machines/.
func RandomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0"
	}
	return hex.EncodeToString(b[:])
}

// AtomicSymlink creates or replaces the symlink at linkPath so that it
// points at target, via a temp-symlink-then-rename so that readers never
// observe a missing or half-written symlink — what finalize's atomic
// publication relies on.
func AtomicSymlink(target, linkPath string) error {
	tmp := linkPath + ".tmp-" + RandomSuffix()
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// RemoveDeadSymlink unlinks path if it is a symlink whose target no longer
// exists (lexists true, exists false) — a dangling symlink must be
// unlinked before a new one can be created in its place; a live symlink
// is left alone.
func RemoveDeadSymlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.Remove(path)
}

func fullCopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
