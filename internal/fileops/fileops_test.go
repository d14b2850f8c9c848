package fileops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smart-gallery/internal/database"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/mediatypes"
)

type fixture struct {
	base string
	db   *database.Database
	mgr  *Manager
}

func newFixture(t *testing.T, trash bool) *fixture {
	t.Helper()

	base := t.TempDir()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "catalog.db"),
		database.Options{RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	trashDir := ""
	if trash {
		trashDir = filepath.Join(base, ".trash")
		if err := os.MkdirAll(trashDir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	mgr := New(db, base, trashDir)
	mgr.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return &fixture{base: base, db: db, mgr: mgr}
}

// add writes a file under base/rel and catalogues it.
func (f *fixture) add(t *testing.T, rel string) database.Entry {
	t.Helper()

	path := filepath.Join(f.base, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(rel), 0o644); err != nil {
		t.Fatal(err)
	}
	key, err := folders.KeyForFile(f.base, path)
	if err != nil {
		t.Fatal(err)
	}
	e := database.Entry{
		ID:        folders.FileID(path),
		Path:      path,
		FolderKey: key,
		Name:      filepath.Base(path),
		ModTime:   1000,
		Type:      mediatypes.FileTypeImage,
		Size:      int64(len(rel)),
	}
	if err := f.db.UpsertBatch(context.Background(), []database.Entry{e}, nil); err != nil {
		t.Fatal(err)
	}
	return e
}

func (f *fixture) mkdir(t *testing.T, rel string) string {
	t.Helper()

	dir := filepath.Join(f.base, filepath.FromSlash(rel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	key, err := folders.Key(f.base, dir)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func TestDeleteByIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	a := f.add(t, "a.png")
	b := f.add(t, "b.png")
	gone := f.add(t, "gone.png")
	if err := os.Remove(gone.Path); err != nil {
		t.Fatal(err)
	}

	report, err := f.mgr.DeleteByIDs(context.Background(), []string{a.ID, gone.ID, a.ID, "unknown"})
	if err != nil {
		t.Fatalf("DeleteByIDs failed: %v", err)
	}

	if report.Requested != 3 {
		t.Errorf("Requested = %d, want 3 (duplicates collapsed)", report.Requested)
	}
	if report.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", report.Deleted)
	}
	if len(report.Failed) != 1 || report.Failed[0].ID != "unknown" {
		t.Errorf("Failed = %+v, want only the unknown id", report.Failed)
	}
	if exists(a.Path) {
		t.Error("a.png should be removed from disk")
	}
	if !exists(b.Path) {
		t.Error("b.png should be untouched")
	}
	for _, id := range []string{a.ID, gone.ID} {
		if _, err := f.db.Get(context.Background(), id); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("entry %s still catalogued: %v", id, err)
		}
	}
}

func TestDeleteByIDsToTrash(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	first := f.add(t, "x/photo.png")
	second := f.add(t, "y/photo.png")

	report, err := f.mgr.DeleteByIDs(context.Background(), []string{first.ID, second.ID})
	if err != nil {
		t.Fatalf("DeleteByIDs failed: %v", err)
	}
	if report.Deleted != 2 || report.HasFailures() {
		t.Fatalf("report = %+v, want 2 deleted and no failures", report)
	}

	for _, name := range []string{"20240506_070809_photo.png", "20240506_070809_photo(1).png"} {
		if !exists(filepath.Join(f.mgr.TrashDir(), name)) {
			t.Errorf("expected %s in trash", name)
		}
	}
}

func TestDeleteByIDsEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	if _, err := f.mgr.DeleteByIDs(context.Background(), []string{""}); !errors.Is(err, ErrNoIDs) {
		t.Errorf("err = %v, want ErrNoIDs", err)
	}
}

func TestMoveByIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	destKey := f.mkdir(t, "dest")
	src := f.add(t, "src/photo.png")
	clash := f.add(t, "other/photo.png")
	existing := f.add(t, "dest/photo.png")

	if _, err := f.db.SetFavorite(context.Background(), []string{src.ID}, true); err != nil {
		t.Fatal(err)
	}

	report, err := f.mgr.MoveByIDs(context.Background(), []string{src.ID, clash.ID, existing.ID}, destKey)
	if err != nil {
		t.Fatalf("MoveByIDs failed: %v", err)
	}

	if len(report.Moved) != 2 {
		t.Fatalf("Moved = %+v, want 2", report.Moved)
	}
	if report.Renamed != 2 {
		t.Errorf("Renamed = %d, want 2", report.Renamed)
	}
	if len(report.Failed) != 1 || report.Failed[0].ID != existing.ID {
		t.Errorf("Failed = %+v, want the file already in dest", report.Failed)
	}

	wantNames := []string{"photo(1).png", "photo(2).png"}
	for i, m := range report.Moved {
		if m.Name != wantNames[i] {
			t.Errorf("Moved[%d].Name = %q, want %q", i, m.Name, wantNames[i])
		}
		e, err := f.db.Get(context.Background(), m.NewID)
		if err != nil {
			t.Fatalf("moved entry %s not found: %v", m.NewID, err)
		}
		if e.FolderKey != destKey || e.Name != m.Name {
			t.Errorf("entry = %+v, want folder %s name %s", e, destKey, m.Name)
		}
		if !exists(e.Path) {
			t.Errorf("%s missing on disk", e.Path)
		}
		if m.ID == src.ID && !e.IsFavorite {
			t.Error("favorite flag lost on move")
		}
	}
	if exists(src.Path) || exists(clash.Path) {
		t.Error("sources should be gone")
	}
}

func TestMoveByIDsMissingSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	destKey := f.mkdir(t, "dest")
	gone := f.add(t, "src/gone.png")
	if err := os.Remove(gone.Path); err != nil {
		t.Fatal(err)
	}

	report, err := f.mgr.MoveByIDs(context.Background(), []string{gone.ID}, destKey)
	if err != nil {
		t.Fatalf("MoveByIDs failed: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Reason != "not found on disk" {
		t.Errorf("Failed = %+v, want not found on disk", report.Failed)
	}
	if _, err := f.db.Get(context.Background(), gone.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("stale entry should be removed, got %v", err)
	}
}

func TestMoveByIDsBadDestination(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	e := f.add(t, "a.png")

	tests := []struct {
		name string
		key  string
	}{
		{"undecodable", "!!!"},
		{"missing folder", "bm9wZQ=="},
		{"outside base", "Li4vZXNjYXBl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.mgr.MoveByIDs(context.Background(), []string{e.ID}, tt.key); err == nil {
				t.Errorf("MoveByIDs(%q) succeeded, want error", tt.key)
			}
		})
	}
	if !exists(e.Path) {
		t.Error("file should not move")
	}
}

func TestFavorites(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	a := f.add(t, "a.png")
	b := f.add(t, "b.png")
	ctx := context.Background()

	n, err := f.mgr.SetFavorite(ctx, []string{a.ID, b.ID, a.ID}, true)
	if err != nil {
		t.Fatalf("SetFavorite failed: %v", err)
	}
	if n != 2 {
		t.Errorf("SetFavorite updated %d, want 2", n)
	}

	fav, err := f.mgr.ToggleFavorite(ctx, a.ID)
	if err != nil {
		t.Fatalf("ToggleFavorite failed: %v", err)
	}
	if fav {
		t.Error("toggle of a favorite should clear it")
	}

	if _, err := f.mgr.ToggleFavorite(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := f.mgr.SetFavorite(ctx, nil, true); !errors.Is(err, ErrNoIDs) {
		t.Errorf("err = %v, want ErrNoIDs", err)
	}
}

func TestRename(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	e := f.add(t, "dir/old.png")
	f.add(t, "dir/taken.png")
	ctx := context.Background()

	tests := []struct {
		name    string
		newName string
		wantErr error
	}{
		{"empty", "  ", ErrInvalidName},
		{"separator", "a/b.png", ErrInvalidName},
		{"hidden", ".secret", ErrInvalidName},
		{"unchanged", "old", ErrInvalidName},
		{"taken", "taken.png", ErrNameTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.mgr.Rename(ctx, e.ID, tt.newName); !errors.Is(err, tt.wantErr) {
				t.Errorf("Rename(%q) err = %v, want %v", tt.newName, err, tt.wantErr)
			}
		})
	}

	renamed, err := f.mgr.Rename(ctx, e.ID, "new")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if renamed.Name != "new.png" {
		t.Errorf("Name = %q, want new.png (extension kept)", renamed.Name)
	}
	if renamed.ID != folders.FileID(renamed.Path) {
		t.Error("id should follow the new path")
	}
	if !exists(renamed.Path) || exists(e.Path) {
		t.Error("file not renamed on disk")
	}
	if _, err := f.db.Get(ctx, e.ID); !errors.Is(err, database.ErrNotFound) {
		t.Error("old id should be gone")
	}
}
