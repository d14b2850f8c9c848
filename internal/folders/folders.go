package folders

import (
	"crypto/md5" //nolint:gosec // MD5 used for identifiers and cache keys, not security
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RootKey identifies the base directory itself.
const RootKey = "_root_"

// ErrOutsideBase is returned when a path or key resolves outside the base directory.
var ErrOutsideBase = fmt.Errorf("path escapes base directory: %w", os.ErrPermission)

// ErrInvalidKey is returned for folder keys that cannot be decoded.
var ErrInvalidKey = errors.New("invalid folder key")

// Key returns the folder key for dir, a directory at or below base.
func Key(base, dir string) (string, error) {
	rel, err := filepath.Rel(base, dir)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return RootKey, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideBase
	}
	return base64.URLEncoding.EncodeToString([]byte(filepath.ToSlash(rel))), nil
}

// KeyForFile returns the key of the folder that holds path.
func KeyForFile(base, path string) (string, error) {
	return Key(base, filepath.Dir(path))
}

// Dir resolves a folder key to an absolute directory below base.
func Dir(base, key string) (string, error) {
	if key == RootKey || key == "" {
		return filepath.Clean(base), nil
	}

	raw, err := base64.URLEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return Within(base, filepath.Join(base, filepath.FromSlash(string(raw))))
}

// Within returns the cleaned absolute form of path and fails with
// ErrOutsideBase unless it lies at or below base. Symlinks are resolved
// when the target exists so a link cannot point the caller outside base.
func Within(base, path string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if !contains(absBase, absPath) {
		return "", ErrOutsideBase
	}

	realBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return absPath, nil
	}
	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return absPath, nil
	}
	if !contains(realBase, realPath) {
		return "", ErrOutsideBase
	}
	return absPath, nil
}

func contains(base, path string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(base, string(filepath.Separator))+string(filepath.Separator))
}

// FileID returns the catalog identifier of an absolute path.
func FileID(path string) string {
	sum := md5.Sum([]byte(path)) //nolint:gosec // identifier, not security
	return hex.EncodeToString(sum[:])
}

// ThumbHash returns the preview cache key for a path at a given modification
// time (unix seconds). A changed file gets a new key.
func ThumbHash(path string, mtime int64) string {
	sum := md5.Sum([]byte(path + strconv.FormatInt(mtime, 10))) //nolint:gosec // cache key, not security
	return hex.EncodeToString(sum[:])
}

// IsHidden reports whether a directory entry name should be skipped by scans.
// Cache directories live inside the base tree and start with a dot.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
