package folders

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestKeyRoundTrip(t *testing.T) {
	t.Parallel()
	base := t.TempDir()

	tests := []struct {
		name string
		dir  string
	}{
		{"root", base},
		{"child", filepath.Join(base, "renders")},
		{"nested", filepath.Join(base, "renders", "2024", "june")},
		{"unicode", filepath.Join(base, "vidéos")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, err := Key(base, tt.dir)
			if err != nil {
				t.Fatalf("Key: %v", err)
			}
			dir, err := Dir(base, key)
			if err != nil {
				t.Fatalf("Dir(%q): %v", key, err)
			}
			if dir != tt.dir {
				t.Errorf("Dir(Key(%q)) = %q", tt.dir, dir)
			}
		})
	}
}

func TestRootKey(t *testing.T) {
	t.Parallel()
	base := t.TempDir()

	key, err := Key(base, base)
	if err != nil || key != RootKey {
		t.Errorf("Key(base) = %q, %v", key, err)
	}
	if key, err := KeyForFile(base, filepath.Join(base, "a.png")); err != nil || key != RootKey {
		t.Errorf("KeyForFile = %q, %v", key, err)
	}
}

func TestKeyOutsideBase(t *testing.T) {
	t.Parallel()
	base := t.TempDir()

	if _, err := Key(base, filepath.Dir(base)); !errors.Is(err, ErrOutsideBase) {
		t.Errorf("Key(parent) err = %v", err)
	}
}

func TestDirRejectsTraversal(t *testing.T) {
	t.Parallel()
	base := t.TempDir()

	// base64url("../../etc")
	if _, err := Dir(base, "Li4vLi4vZXRj"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("traversal key err = %v, want permission error", err)
	}
	if _, err := Dir(base, "not base64!"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("invalid key err = %v", err)
	}
}

func TestWithinSymlinkEscape(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(base, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := Within(base, link); !errors.Is(err, ErrOutsideBase) {
		t.Errorf("Within(symlink outside) err = %v", err)
	}
	if _, err := Within(base, filepath.Join(base, "..", filepath.Base(outside))); !errors.Is(err, ErrOutsideBase) {
		t.Errorf("Within(dotdot) err = %v", err)
	}
	if got, err := Within(base, filepath.Join(base, "missing.png")); err != nil || got != filepath.Join(base, "missing.png") {
		t.Errorf("Within(missing) = %q, %v", got, err)
	}
}

func TestFileIDAndThumbHash(t *testing.T) {
	t.Parallel()

	// md5("/data/a.png")
	id := FileID("/data/a.png")
	if len(id) != 32 {
		t.Fatalf("FileID length = %d", len(id))
	}
	if id != FileID("/data/a.png") {
		t.Error("FileID not stable")
	}
	if id == FileID("/data/b.png") {
		t.Error("FileID collision")
	}
	if ThumbHash("/data/a.png", 1) == ThumbHash("/data/a.png", 2) {
		t.Error("ThumbHash must change with mtime")
	}
}

func TestIsHidden(t *testing.T) {
	t.Parallel()

	if !IsHidden(".thumbnails_cache") || IsHidden("renders") {
		t.Error("IsHidden mismatch")
	}
}
