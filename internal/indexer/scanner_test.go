package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"smart-gallery/internal/database"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/mediatypes"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeFull, false},
		{"all", ModeFull, false},
		{"full", ModeFull, false},
		{"recent", ModeRecent, false},
		{"missing", ModeMissing, false},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestDirListerFilters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"))
	writeFile(t, filepath.Join(dir, "clip.MP4"), "x")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	writeFile(t, filepath.Join(dir, ".hidden.png"), "x")
	writePNG(t, filepath.Join(dir, "sub", "nested.png"))

	files, err := DirLister{}.List(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
		if f.Path != filepath.Join(dir, f.Name) {
			t.Errorf("path = %s", f.Path)
		}
	}
	slices.Sort(names)
	if want := []string{"a.png", "clip.MP4"}; !slices.Equal(names, want) {
		t.Errorf("listed %v, want %v", names, want)
	}
}

func TestScannerDiffModes(t *testing.T) {
	t.Parallel()

	const (
		oldMtime = int64(1_700_000_000)
		newMtime = oldMtime + 60
		now      = int64(1_800_000_000)
	)

	base := t.TempDir()
	paths := map[string]string{}
	for _, name := range []string{"new.png", "changed.png", "same.png", "fresh-changed.png", "fresh.png"} {
		p := filepath.Join(base, name)
		writePNG(t, p)
		paths[name] = p
	}
	setMtime(t, paths["new.png"], newMtime)
	setMtime(t, paths["changed.png"], newMtime)
	setMtime(t, paths["same.png"], oldMtime)
	setMtime(t, paths["fresh-changed.png"], newMtime)
	setMtime(t, paths["fresh.png"], oldMtime)

	db := setupTestDB(t, 0)
	stale := now - 2*3600
	fresh := now - 60
	seed := []database.Entry{
		seedEntry(paths["changed.png"], oldMtime, stale),
		seedEntry(paths["same.png"], oldMtime, stale),
		seedEntry(paths["fresh-changed.png"], oldMtime, fresh),
		seedEntry(paths["fresh.png"], oldMtime, fresh),
		seedEntry(filepath.Join(base, "gone.png"), oldMtime, fresh),
	}
	if err := db.UpsertBatch(context.Background(), seed, nil); err != nil {
		t.Fatal(err)
	}

	id := func(name string) string { return folders.FileID(filepath.Join(base, name)) }

	tests := []struct {
		mode        Mode
		preview     func(string, int64) bool
		wantProcess []string
		wantRefresh []string
	}{
		{
			mode:        ModeFull,
			wantProcess: []string{"changed.png", "fresh-changed.png", "new.png"},
			wantRefresh: []string{"fresh.png", "same.png"},
		},
		{
			mode:        ModeRecent,
			wantProcess: []string{"changed.png", "new.png"},
			wantRefresh: []string{"same.png"},
		},
		{
			mode:        ModeMissing,
			wantProcess: []string{"new.png"},
		},
		{
			mode:        ModeMissing,
			preview:     func(p string, _ int64) bool { return filepath.Base(p) != "same.png" },
			wantProcess: []string{"new.png", "same.png"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			s := NewScanner(db, base, nil, time.Hour)
			s.now = func() time.Time { return time.Unix(now, 0) }
			s.SetPreviewCheck(tt.preview)

			diff, err := s.Diff(context.Background(), folders.RootKey, tt.mode)
			if err != nil {
				t.Fatalf("Diff: %v", err)
			}

			var process []string
			for _, p := range diff.ToProcess {
				process = append(process, filepath.Base(p))
			}
			slices.Sort(process)
			if !slices.Equal(process, tt.wantProcess) {
				t.Errorf("ToProcess = %v, want %v", process, tt.wantProcess)
			}

			var wantRefresh []string
			for _, n := range tt.wantRefresh {
				wantRefresh = append(wantRefresh, id(n))
			}
			slices.Sort(wantRefresh)
			if !slices.Equal(diff.ToRefresh, wantRefresh) {
				t.Errorf("ToRefresh = %v, want %v", diff.ToRefresh, wantRefresh)
			}

			if !slices.Equal(diff.ToDelete, []string{id("gone.png")}) {
				t.Errorf("ToDelete = %v", diff.ToDelete)
			}
		})
	}
}

func seedEntry(path string, mtime, scanned int64) database.Entry {
	return database.Entry{
		ID:          folders.FileID(path),
		Path:        path,
		FolderKey:   folders.RootKey,
		Name:        filepath.Base(path),
		ModTime:     mtime,
		Type:        mediatypes.FileTypeImage,
		LastScanned: scanned,
	}
}

func TestScannerVanishedFolder(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	db := setupTestDB(t, 0)
	gone := filepath.Join(base, "gone")
	key, err := folders.Key(base, gone)
	if err != nil {
		t.Fatal(err)
	}

	s := NewScanner(db, base, nil, 0)
	if _, err := s.Diff(context.Background(), key, ModeFull); !errors.Is(err, ErrUnknownFolder) {
		t.Errorf("empty vanished folder err = %v, want ErrUnknownFolder", err)
	}

	e := seedEntry(filepath.Join(gone, "a.png"), 1, 1)
	e.FolderKey = key
	if err := db.UpsertBatch(context.Background(), []database.Entry{e}, nil); err != nil {
		t.Fatal(err)
	}
	diff, err := s.Diff(context.Background(), key, ModeFull)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diff.ToDelete) != 1 || len(diff.ToProcess) != 0 {
		t.Errorf("diff = %+v", diff)
	}

	if _, err := s.Diff(context.Background(), "!!not-base64", ModeFull); !errors.Is(err, ErrUnknownFolder) {
		t.Errorf("bad key err = %v", err)
	}
}

func TestScannerIsNonRecursive(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writePNG(t, filepath.Join(base, "top.png"))
	writePNG(t, filepath.Join(base, "sub", "deep.png"))
	if err := os.MkdirAll(filepath.Join(base, ".thumbnails_cache"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(setupTestDB(t, 0), base, nil, 0)
	diff, err := s.Diff(context.Background(), folders.RootKey, ModeFull)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.ToProcess) != 1 || filepath.Base(diff.ToProcess[0]) != "top.png" {
		t.Errorf("ToProcess = %v", diff.ToProcess)
	}
}
