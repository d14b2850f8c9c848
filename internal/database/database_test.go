package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"smart-gallery/internal/mediatypes"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), Options{RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEntry(folder, name string, mtime int64) Entry {
	path := "/base/" + folder + "/" + name
	return Entry{
		ID:          "id-" + folder + "-" + name,
		Path:        path,
		FolderKey:   folder,
		Name:        name,
		ModTime:     mtime,
		Type:        mediatypes.FileTypeImage,
		Dimensions:  "512x512",
		Size:        1024,
		LastScanned: 100,
		Models:      []string{"sdxl.safetensors"},
		ThumbHash:   "hash-" + name,
		ThumbFormat: "webp",
	}
}

func TestNewStampsSchemaVersion(t *testing.T) {
	db := setupTestDB(t)

	var version int
	if err := db.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion {
		t.Errorf("user_version = %d, want %d", version, SchemaVersion)
	}
	if db.Rebuilt() {
		t.Error("fresh catalog reported as rebuilt")
	}
}

func TestSchemaMismatchRebuilds(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	db, err := New(ctx, path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertBatch(ctx, []Entry{testEntry("f", "a.png", 1)}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion-1)); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = New(ctx, path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	if !db.Rebuilt() {
		t.Error("expected rebuild on version mismatch")
	}
	if _, err := db.Lookup(ctx, "/base/f/a.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after rebuild: err = %v, want ErrNotFound", err)
	}
}

func TestUpsertAndLookup(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	created := int64(1700000000)
	e := testEntry("f", "a.png", 10)
	e.HasWorkflow = true
	e.Loras = []string{"style.safetensors"}
	e.MediaCreatedAt = &created

	if err := db.UpsertBatch(ctx, []Entry{e}, nil); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	got, err := db.Lookup(ctx, e.Path)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ID != e.ID || got.ModTime != 10 || !got.HasWorkflow || got.Type != mediatypes.FileTypeImage {
		t.Errorf("unexpected entry %+v", got)
	}
	if len(got.Models) != 1 || got.Models[0] != "sdxl.safetensors" {
		t.Errorf("Models = %v", got.Models)
	}
	if len(got.Loras) != 1 || len(got.InputFiles) != 0 {
		t.Errorf("Loras = %v, InputFiles = %v", got.Loras, got.InputFiles)
	}
	if got.MediaCreatedAt == nil || *got.MediaCreatedAt != created {
		t.Errorf("MediaCreatedAt = %v", got.MediaCreatedAt)
	}

	if _, err := db.Lookup(ctx, "/nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing Lookup err = %v", err)
	}
}

func TestUpsertPreservesFavoriteAndScanTime(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	e := testEntry("f", "a.png", 10)
	e.LastScanned = 500
	if err := db.UpsertBatch(ctx, []Entry{e}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SetFavorite(ctx, []string{e.ID}, true); err != nil {
		t.Fatal(err)
	}

	e.ModTime = 20
	e.LastScanned = 300
	if err := db.UpsertBatch(ctx, []Entry{e}, nil); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsFavorite {
		t.Error("favorite flag lost on upsert")
	}
	if got.ModTime != 20 {
		t.Errorf("ModTime = %d, want 20", got.ModTime)
	}
	if got.LastScanned != 500 {
		t.Errorf("LastScanned = %d, want 500 (never decreases)", got.LastScanned)
	}
}

func TestUpsertBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	good := testEntry("f", "good.png", 1)
	bad := testEntry("f", "bad.png", 1)
	bad.Path = "" // violates CHECK (path <> '')

	err := db.UpsertBatch(ctx, []Entry{good, bad}, nil)
	if err == nil {
		t.Fatal("expected batch failure")
	}
	if _, err := db.Lookup(ctx, good.Path); !errors.Is(err, ErrNotFound) {
		t.Errorf("partial batch visible: err = %v", err)
	}
}

func TestUpsertBatchRetriesOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	calls := 0
	db.beforeCommit = func() error {
		calls++
		if calls == 1 {
			return errors.New("database is locked")
		}
		return nil
	}

	e := testEntry("f", "a.png", 1)
	if err := db.UpsertBatch(ctx, []Entry{e}, nil); err != nil {
		t.Fatalf("UpsertBatch after retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("commit attempts = %d, want 2", calls)
	}
	if _, err := db.Lookup(ctx, e.Path); err != nil {
		t.Errorf("entry missing after retried batch: %v", err)
	}

	calls = 0
	db.beforeCommit = func() error {
		calls++
		return errors.New("disk I/O error")
	}
	e2 := testEntry("f", "b.png", 1)
	if err := db.UpsertBatch(ctx, []Entry{e2}, nil); err == nil {
		t.Fatal("expected failure after retry")
	}
	if calls != 2 {
		t.Errorf("commit attempts = %d, want 2", calls)
	}
	db.beforeCommit = nil
	if _, err := db.Lookup(ctx, e2.Path); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed batch visible: err = %v", err)
	}
}

func TestSessionEndWritesRetryOnce(t *testing.T) {
	tests := []struct {
		name  string
		write func(ctx context.Context, db *Database, e Entry) error
		check func(t *testing.T, db *Database, e Entry)
	}{
		{
			name: "delete",
			write: func(ctx context.Context, db *Database, e Entry) error {
				n, err := db.DeleteByIDs(ctx, []string{e.ID})
				if err == nil && n != 1 {
					return fmt.Errorf("deleted %d rows, want 1", n)
				}
				return err
			},
			check: func(t *testing.T, db *Database, e Entry) {
				if _, err := db.Lookup(context.Background(), e.Path); !errors.Is(err, ErrNotFound) {
					t.Errorf("entry still present: err = %v", err)
				}
			},
		},
		{
			name: "mark scanned",
			write: func(ctx context.Context, db *Database, e Entry) error {
				return db.MarkScanned(ctx, []string{e.ID}, time.Unix(500, 0))
			},
			check: func(t *testing.T, db *Database, e Entry) {
				got, err := db.Lookup(context.Background(), e.Path)
				if err != nil {
					t.Fatal(err)
				}
				if got.LastScanned != 500 {
					t.Errorf("LastScanned = %d, want 500", got.LastScanned)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := setupTestDB(t)
			e := testEntry("f", "a.png", 1)
			if err := db.UpsertBatch(ctx, []Entry{e}, nil); err != nil {
				t.Fatal(err)
			}

			calls := 0
			db.beforeCommit = func() error {
				calls++
				if calls == 1 {
					return errors.New("database is locked")
				}
				return nil
			}
			if err := tt.write(ctx, db, e); err != nil {
				t.Fatalf("write after transient lock: %v", err)
			}
			if calls != 2 {
				t.Errorf("commit attempts = %d, want 2", calls)
			}
			db.beforeCommit = nil
			tt.check(t, db, e)
		})
	}
}

func TestUpsertBatchDeletions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a := testEntry("f", "a.png", 1)
	b := testEntry("f", "b.png", 1)
	if err := db.UpsertBatch(ctx, []Entry{a, b}, nil); err != nil {
		t.Fatal(err)
	}

	c := testEntry("f", "c.png", 1)
	if err := db.UpsertBatch(ctx, []Entry{c}, []string{a.ID}); err != nil {
		t.Fatal(err)
	}

	state, err := db.FolderState(ctx, "f")
	if err != nil {
		t.Fatal(err)
	}
	if len(state) != 2 {
		t.Fatalf("folder has %d entries, want 2", len(state))
	}
	if _, ok := state[a.Path]; ok {
		t.Error("deleted entry still present")
	}
	if s := state[c.Path]; s.ID != c.ID || s.ModTime != 1 || s.LastScanned != 100 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestUpsertBatchTooLarge(t *testing.T) {
	ctx := context.Background()
	db, err := New(ctx, filepath.Join(t.TempDir(), "c.db"), Options{BatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	entries := []Entry{testEntry("f", "a", 1), testEntry("f", "b", 1), testEntry("f", "c", 1)}
	if err := db.UpsertBatch(ctx, entries, nil); err == nil {
		t.Error("expected error for oversized batch")
	}
}

func TestListFolder(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	entries := []Entry{
		testEntry("f", "b.png", 30),
		testEntry("f", "A.png", 10),
		testEntry("f", "c.mp4", 20),
		testEntry("other", "z.png", 5),
	}
	entries[2].Type = mediatypes.FileTypeVideo
	entries[0].LastScanned = 1000
	if err := db.UpsertBatch(ctx, entries, nil); err != nil {
		t.Fatal(err)
	}

	names := func(l *Listing) []string {
		var out []string
		for _, e := range l.Items {
			out = append(out, e.Name)
		}
		return out
	}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"name asc", ListOptions{}, []string{"A.png", "b.png", "c.mp4"}},
		{"name desc", ListOptions{Order: mediatypes.SortDesc}, []string{"c.mp4", "b.png", "A.png"}},
		{"mtime desc", ListOptions{Sort: mediatypes.SortByModTime, Order: mediatypes.SortDesc}, []string{"b.png", "c.mp4", "A.png"}},
		{"type filter", ListOptions{Type: mediatypes.FileTypeVideo}, []string{"c.mp4"}},
		{"page 2", ListOptions{PageSize: 2, Page: 2}, []string{"c.mp4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := db.ListFolder(ctx, "f", tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			got := names(l)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	stale := time.Unix(500, 0)
	l, err := db.ListFolder(ctx, "f", ListOptions{StaleBefore: &stale})
	if err != nil {
		t.Fatal(err)
	}
	if l.TotalItems != 2 {
		t.Errorf("stale entries = %d, want 2", l.TotalItems)
	}

	if _, err := db.ListFolder(ctx, "f", ListOptions{Sort: "size"}); err == nil {
		t.Error("expected error for unsupported sort")
	}

	l, err = db.ListFolder(ctx, "f", ListOptions{PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if l.TotalPages != 2 || l.TotalItems != 3 {
		t.Errorf("pages = %d, total = %d", l.TotalPages, l.TotalItems)
	}
}

func TestMarkScannedIsMonotonic(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	e := testEntry("f", "a.png", 1)
	e.LastScanned = 1000
	if err := db.UpsertBatch(ctx, []Entry{e}, nil); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkScanned(ctx, []string{e.ID}, time.Unix(500, 0)); err != nil {
		t.Fatal(err)
	}
	got, _ := db.Get(ctx, e.ID)
	if got.LastScanned != 1000 {
		t.Errorf("LastScanned decreased to %d", got.LastScanned)
	}

	if err := db.MarkScanned(ctx, []string{e.ID}, time.Unix(2000, 0)); err != nil {
		t.Fatal(err)
	}
	got, _ = db.Get(ctx, e.ID)
	if got.LastScanned != 2000 {
		t.Errorf("LastScanned = %d, want 2000", got.LastScanned)
	}
}

func TestFavorites(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a, b := testEntry("f", "a.png", 1), testEntry("f", "b.png", 1)
	if err := db.UpsertBatch(ctx, []Entry{a, b}, nil); err != nil {
		t.Fatal(err)
	}

	n, err := db.SetFavorite(ctx, []string{a.ID, b.ID, "missing"}, true)
	if err != nil || n != 2 {
		t.Fatalf("SetFavorite = %d, %v", n, err)
	}

	fav, err := db.ToggleFavorite(ctx, a.ID)
	if err != nil || fav {
		t.Errorf("ToggleFavorite = %v, %v; want false", fav, err)
	}
	fav, err = db.ToggleFavorite(ctx, a.ID)
	if err != nil || !fav {
		t.Errorf("ToggleFavorite = %v, %v; want true", fav, err)
	}

	if _, err := db.ToggleFavorite(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ToggleFavorite(missing) err = %v", err)
	}

	l, err := db.ListFolder(ctx, "f", ListOptions{FavoritesOnly: true})
	if err != nil || l.TotalItems != 2 {
		t.Errorf("favorites listing = %v, %v", l, err)
	}
}

func TestRelocate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a := testEntry("f", "a.png", 1)
	stale := testEntry("g", "a.png", 1)
	if err := db.UpsertBatch(ctx, []Entry{a, stale}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SetFavorite(ctx, []string{a.ID}, true); err != nil {
		t.Fatal(err)
	}

	if err := db.Relocate(ctx, a.ID, "new-id", stale.Path, "g", "a.png"); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	got, err := db.Lookup(ctx, stale.Path)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "new-id" || got.FolderKey != "g" || !got.IsFavorite {
		t.Errorf("relocated entry = %+v", got)
	}
	if _, err := db.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Error("old id still present")
	}

	if err := db.Relocate(ctx, "missing", "x", "/x", "g", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Relocate(missing) err = %v", err)
	}
}

func TestDeleteAndStats(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a, b, c := testEntry("f", "a.png", 1), testEntry("f", "b.mp4", 1), testEntry("g", "c.png", 1)
	b.Type = mediatypes.FileTypeVideo
	c.HasWorkflow = true
	if err := db.UpsertBatch(ctx, []Entry{a, b, c}, nil); err != nil {
		t.Fatal(err)
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.ByType["image"] != 2 || stats.WithWorkflow != 1 || stats.Folders != 2 {
		t.Errorf("stats = %+v", stats)
	}

	collected, err := db.CollectStats(ctx)
	if err != nil || collected.ByType["video"] != 1 || collected.WithWorkflow != 1 {
		t.Errorf("CollectStats = %+v, %v", collected, err)
	}

	keys, err := db.FolderKeys(ctx)
	if err != nil || len(keys) != 2 {
		t.Errorf("FolderKeys = %v, %v", keys, err)
	}

	hashes, err := db.ThumbHashes(ctx)
	if err != nil || len(hashes) != 3 {
		t.Errorf("ThumbHashes = %v, %v", hashes, err)
	}

	n, err := db.DeleteByIDs(ctx, []string{a.ID, "missing"})
	if err != nil || n != 1 {
		t.Errorf("DeleteByIDs = %d, %v", n, err)
	}

	n, err = db.DeleteFolders(ctx, []string{"g"})
	if err != nil || n != 1 {
		t.Errorf("DeleteFolders = %d, %v", n, err)
	}

	got, err := db.GetByIDs(ctx, []string{a.ID, b.ID, c.ID})
	if err != nil || len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("GetByIDs = %v, %v", got, err)
	}
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	if _, err := db.GetMetadata(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMetadata(missing) err = %v", err)
	}
	if err := db.SetMetadata(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMetadata(ctx, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	if v, err := db.GetMetadata(ctx, "k"); err != nil || v != "v2" {
		t.Errorf("GetMetadata = %q, %v", v, err)
	}

	zero, err := db.GetLastFullSync(ctx)
	if err != nil || !zero.IsZero() {
		t.Errorf("GetLastFullSync = %v, %v", zero, err)
	}
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := db.SetLastFullSync(ctx, now); err != nil {
		t.Fatal(err)
	}
	if got, err := db.GetLastFullSync(ctx); err != nil || !got.Equal(now) {
		t.Errorf("GetLastFullSync = %v, %v", got, err)
	}
}

func TestChunkIDs(t *testing.T) {
	t.Parallel()

	ids := make([]string, maxParams*2+1)
	chunks := chunkIDs(ids)
	if len(chunks) != 3 || len(chunks[2]) != 1 {
		t.Errorf("chunks = %d", len(chunks))
	}
	if placeholders(3) != "?,?,?" {
		t.Errorf("placeholders(3) = %q", placeholders(3))
	}
}
