package indexer

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smart-gallery/internal/database"
	"smart-gallery/internal/media"
)

func setupTestDB(t *testing.T, batchSize int) *database.Database {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "catalog.db"),
		database.Options{BatchSize: batchSize, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writePNG(t *testing.T, path string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writePNGWithText writes a PNG carrying one tEXt chunk right after IHDR.
func writePNGWithText(t *testing.T, path, keyword, text string) {
	t.Helper()

	writePNG(t, path)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	data := append([]byte(keyword+"\x00"), text...)
	chunk := make([]byte, 0, len(data)+12)
	chunk = binary.BigEndian.AppendUint32(chunk, uint32(len(data)))
	chunk = append(chunk, "tEXt"...)
	chunk = append(chunk, data...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	// 8-byte signature plus the 25-byte IHDR chunk.
	const afterIHDR = 33
	out := append(append(append([]byte{}, raw[:afterIHDR]...), chunk...), raw[afterIHDR:]...)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatal(err)
	}
}

// setMtime pins a file's modification time to a whole second.
func setMtime(t *testing.T, path string, unix int64) {
	t.Helper()

	ts := time.Unix(unix, 0)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
}

type testEnv struct {
	base  string
	db    *database.Database
	coord *Coordinator
}

func newTestEnv(t *testing.T, batchSize int, lister Lister) *testEnv {
	t.Helper()

	base := t.TempDir()
	return buildTestEnv(t, base, setupTestDB(t, batchSize), lister,
		media.ExtractorConfig{BaseDir: base},
		media.ThumbnailConfig{Dir: filepath.Join(base, ".thumbnails_cache")})
}

func buildTestEnv(t *testing.T, base string, db *database.Database, lister Lister,
	extCfg media.ExtractorConfig, thumbCfg media.ThumbnailConfig) *testEnv {
	t.Helper()

	scanner := NewScanner(db, base, lister, time.Hour)
	extractor := media.NewExtractor(extCfg)
	thumbs := media.NewThumbnailGenerator(thumbCfg)

	coord := NewCoordinator(db, scanner, extractor, thumbs, Config{
		BaseDir:             base,
		Workers:             2,
		ProgressIdleTimeout: time.Minute,
	})
	t.Cleanup(coord.Stop)

	return &testEnv{base: base, db: db, coord: coord}
}

func (e *testEnv) sync(t *testing.T, key string, mode Mode) Result {
	t.Helper()

	s, err := e.coord.StartSync(context.Background(), key, mode)
	if err != nil {
		t.Fatalf("StartSync(%s): %v", key, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res
}

// gateLister blocks List until release is closed or ctx ends.
type gateLister struct {
	started chan struct{}
	release chan struct{}
	inner   Lister
}

func newGateLister() *gateLister {
	return &gateLister{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		inner:   DirLister{},
	}
}

func (g *gateLister) List(ctx context.Context, dir string) ([]FileInfo, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.List(ctx, dir)
}
