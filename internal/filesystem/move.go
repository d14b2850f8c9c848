package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// UniquePath returns a path inside dir for name that does not exist yet.
// Conflicts get an incrementing suffix before the extension:
// photo.png, photo(1).png, photo(2).png and so on.
func UniquePath(dir, name string) string {
	return uniqueName(name, func(candidate string) bool {
		_, err := os.Lstat(filepath.Join(dir, candidate))
		return err == nil
	}, dir)
}

// UniqueName returns name, or the first "base(n).ext" variant for which
// taken reports false. It is the in-memory counterpart of UniquePath.
func UniqueName(name string, taken func(string) bool) string {
	return uniqueName(name, taken, "")
}

func uniqueName(name string, taken func(string) bool, dir string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := name
	for counter := 1; taken(candidate); counter++ {
		candidate = fmt.Sprintf("%s(%d)%s", base, counter, ext)
	}
	if dir == "" {
		return candidate
	}
	return filepath.Join(dir, candidate)
}

// MoveFile renames src to dst, copying and removing the source when the two
// paths are on different devices. dst must not exist.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("cross-device copy failed: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing source after copy: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// RemoveFile deletes path, or moves it into trashDir when one is configured.
// Trashed files are named "<YYYYmmdd_HHMMSS>_<name>" and never overwrite an
// earlier trashed file.
func RemoveFile(path, trashDir string, now time.Time) error {
	if trashDir == "" {
		return os.Remove(path)
	}

	name := now.Format("20060102_150405") + "_" + filepath.Base(path)
	return MoveFile(path, UniquePath(trashDir, name))
}
