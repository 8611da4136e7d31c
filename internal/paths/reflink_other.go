//go:build !linux

package paths

import "errors"

// reflinkCopyFile is unavailable outside Linux's FICLONE ioctl; returning
// this exact message makes SupportsReflink report false, and ReflinkCopy
// falls back to a full copy.
func reflinkCopyFile(src, dst string) error {
	return errors.New("Operation not supported")
}
