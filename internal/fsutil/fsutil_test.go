package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestCopyFileCreatesDestination(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "vmlinuz")
	dst := filepath.Join(dir, "boot", "kernel")
	writeFile(t, src, "image-v1")
	if err := os.Mkdir(filepath.Dir(dst), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := CopyFile(src, dst, true); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	if got := readFile(t, dst); got != "image-v1" {
		t.Fatalf("unexpected destination content: %q", got)
	}
	if _, err := os.Stat(dst + BackupSuffix); !os.IsNotExist(err) {
		t.Fatalf("backup created for fresh destination: %v", err)
	}
	if _, err := os.Stat(dst + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("staging file left behind: %v", err)
	}
}

func TestCopyFileKeepsSingleBackupGeneration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, dst, "generation-1")

	writeFile(t, src, "generation-2")
	if err := CopyFile(src, dst, true); err != nil {
		t.Fatalf("first CopyFile() error = %v", err)
	}
	if got := readFile(t, dst+BackupSuffix); got != "generation-1" {
		t.Fatalf("backup does not hold previous generation: %q", got)
	}

	writeFile(t, src, "generation-3")
	if err := CopyFile(src, dst, true); err != nil {
		t.Fatalf("second CopyFile() error = %v", err)
	}
	if got := readFile(t, dst); got != "generation-3" {
		t.Fatalf("unexpected destination content: %q", got)
	}
	if got := readFile(t, dst+BackupSuffix); got != "generation-2" {
		t.Fatalf("backup chained instead of rotated: %q", got)
	}
}

func TestCopyFileIdempotentWithSameSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, src, "same-content")

	if err := CopyFile(src, dst, true); err != nil {
		t.Fatalf("first CopyFile() error = %v", err)
	}
	if err := CopyFile(src, dst, true); err != nil {
		t.Fatalf("second CopyFile() error = %v", err)
	}
	if got := readFile(t, dst); got != "same-content" {
		t.Fatalf("unexpected destination content: %q", got)
	}
	if got := readFile(t, dst+BackupSuffix); got != "same-content" {
		t.Fatalf("backup should hold the previous destination state: %q", got)
	}
}

func TestCopyFileWithoutKeepOldSkipsBackup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, src, "new")
	writeFile(t, dst, "old")

	if err := CopyFile(src, dst, false); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	if _, err := os.Stat(dst + BackupSuffix); !os.IsNotExist(err) {
		t.Fatalf("backup created with keepOld disabled: %v", err)
	}
}

func TestCopyFileUnreadableSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := CopyFile(filepath.Join(dir, "missing"), filepath.Join(dir, "dst"), false); err == nil {
		t.Fatalf("expected error for missing source")
	}
}

func TestReplaceSymlinkBacksUpPreviousLink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "kernel-6.1.0")
	second := filepath.Join(dir, "kernel-6.2.0")
	link := filepath.Join(dir, "kernel")
	writeFile(t, first, "one")
	writeFile(t, second, "two")

	if err := ReplaceSymlink(first, link, true); err != nil {
		t.Fatalf("initial ReplaceSymlink() error = %v", err)
	}
	if err := ReplaceSymlink(second, link, true); err != nil {
		t.Fatalf("second ReplaceSymlink() error = %v", err)
	}

	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != second {
		t.Fatalf("link points at %q, want %q", target, second)
	}

	backupTarget, err := os.Readlink(link + BackupSuffix)
	if err != nil {
		t.Fatalf("backup is not a symlink: %v", err)
	}
	if backupTarget != first {
		t.Fatalf("backup points at %q, want %q", backupTarget, first)
	}
}

func TestReplaceSymlinkBacksUpRegularFileAsCopy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "kernel-6.2.0")
	dst := filepath.Join(dir, "kernel")
	writeFile(t, target, "image")
	writeFile(t, dst, "previously-a-file")

	if err := ReplaceSymlink(target, dst, true); err != nil {
		t.Fatalf("ReplaceSymlink() error = %v", err)
	}

	info, err := os.Lstat(dst + BackupSuffix)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Fatalf("backup of a regular file must be a copy, got symlink")
	}
	if got := readFile(t, dst+BackupSuffix); got != "previously-a-file" {
		t.Fatalf("backup content mismatch: %q", got)
	}

	if _, err := os.Readlink(dst); err != nil {
		t.Fatalf("destination is not a symlink: %v", err)
	}
}

func TestReplaceSymlinkFreshDestination(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "kernel-6.2.0")
	dst := filepath.Join(dir, "kernel")
	writeFile(t, target, "image")

	if err := ReplaceSymlink(target, dst, true); err != nil {
		t.Fatalf("ReplaceSymlink() error = %v", err)
	}
	if _, err := os.Stat(dst + BackupSuffix); !os.IsNotExist(err) {
		t.Fatalf("backup created for fresh destination: %v", err)
	}
}
