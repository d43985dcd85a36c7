// Package fsutil provides the file-replacement primitives used when
// installing build artifacts: atomic copy and symlink replacement, each
// optionally retaining a single ".old" generation of whatever they replace.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// BackupSuffix is appended to the destination path when the previous
// generation of a replaced artifact is retained.
const BackupSuffix = ".old"

// CopyFile copies src over dst without ever exposing a partially written
// destination: content is staged in a temporary file next to dst and renamed
// into place. When keepOld is true and dst already exists, the current dst is
// preserved as dst + ".old", replacing any earlier backup.
func CopyFile(src, dst string, keepOld bool) error {
	if keepOld {
		if _, err := os.Stat(dst); err == nil {
			if err := rotateBackup(dst); err != nil {
				return err
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %q: %w", dst, err)
		}
	}

	tmp := dst + ".tmp"
	if err := writeCopy(src, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %q: %w", dst, err)
	}
	return nil
}

// ReplaceSymlink points dst at target. When keepOld is true and dst exists
// (without following it), the backup mirrors its nature: a symlink backup
// keeps the previous link target, a regular file backup is a full copy.
// The new link is staged at a temporary name and renamed over dst, so dst
// never transiently disappears.
func ReplaceSymlink(target, dst string, keepOld bool) error {
	info, err := os.Lstat(dst)
	switch {
	case err == nil:
		if keepOld {
			if err := backupLinkDestination(dst, info); err != nil {
				return err
			}
		}
	case errors.Is(err, fs.ErrNotExist):
		// nothing to back up
	default:
		return fmt.Errorf("lstat %q: %w", dst, err)
	}

	tmp := dst + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear stale link %q: %w", tmp, err)
	}
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create symlink to %q: %w", target, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %q: %w", dst, err)
	}
	return nil
}

// rotateBackup moves the current dst content aside as dst + ".old",
// discarding any previous backup so exactly one prior generation survives.
func rotateBackup(dst string) error {
	backup := dst + BackupSuffix
	if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove previous backup %q: %w", backup, err)
	}
	if err := writeCopy(dst, backup); err != nil {
		return err
	}
	return nil
}

func backupLinkDestination(dst string, info fs.FileInfo) error {
	backup := dst + BackupSuffix
	if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove previous backup %q: %w", backup, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		previousTarget, err := os.Readlink(dst)
		if err != nil {
			return fmt.Errorf("readlink %q: %w", dst, err)
		}
		if err := os.Symlink(previousTarget, backup); err != nil {
			return fmt.Errorf("create backup symlink %q: %w", backup, err)
		}
		return nil
	}
	return writeCopy(dst, backup)
}

// writeCopy copies src to dst, preserving the source mode and syncing the
// content to stable storage before returning.
func writeCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %q: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %q to %q: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("sync %q: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close %q: %w", dst, err)
	}
	return nil
}
