package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"smart-gallery/internal/mediatypes"
)

func writeTestImage(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestNewThumbnailGeneratorDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		cfg         ThumbnailConfig
		wantFormat  string
		wantQuality int
	}{
		{"zero config", ThumbnailConfig{}, FormatWebP, 70},
		{"jpeg", ThumbnailConfig{Format: FormatJPEG}, FormatJPEG, 80},
		{"bogus format", ThumbnailConfig{Format: "tiff"}, FormatWebP, 70},
		{"explicit quality", ThumbnailConfig{Format: FormatJPEG, Quality: 55}, FormatJPEG, 55},
		{"out of range quality", ThumbnailConfig{Quality: 101}, FormatWebP, 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Dir = t.TempDir()
			g := NewThumbnailGenerator(tt.cfg)
			if g.cfg.Format != tt.wantFormat || g.cfg.Quality != tt.wantQuality {
				t.Errorf("format=%s quality=%d", g.cfg.Format, g.cfg.Quality)
			}
			if g.Width() != DefaultThumbnailWidth || g.cfg.AnimatedFPS != DefaultAnimatedFPS {
				t.Errorf("width=%d fps=%d", g.Width(), g.cfg.AnimatedFPS)
			}
		})
	}
}

func TestGenerateStaticImageFits(t *testing.T) {
	if IsVipsAvailable() {
		t.Skip("pure-Go path only")
	}
	t.Parallel()

	dir := t.TempDir()
	g := NewThumbnailGenerator(ThumbnailConfig{Dir: dir, Width: 100})

	tests := []struct {
		name        string
		w, h        int
		wantW       int
		wantH       int
		description string
	}{
		{"wide", 400, 200, 100, 50, "scaled to width"},
		{"very tall", 100, 800, 25, 200, "bounded by 2W height"},
		{"small", 40, 30, 40, 30, "never enlarged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := filepath.Join(dir, tt.name+".png")
			writeTestImage(t, src, tt.w, tt.h)

			th, err := g.Generate(context.Background(), src, mediatypes.FileTypeImage, 0)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if th.Format != FormatJPEG {
				t.Errorf("format = %s, want jpeg without libvips", th.Format)
			}
			if th.Width != tt.wantW || th.Height != tt.wantH {
				t.Errorf("%s: got %dx%d, want %dx%d", tt.description, th.Width, th.Height, tt.wantW, tt.wantH)
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(th.Data))
			if err != nil {
				t.Fatalf("output is not a JPEG: %v", err)
			}
			if cfg.Width != th.Width || cfg.Height != th.Height {
				t.Errorf("encoded %dx%d, reported %dx%d", cfg.Width, cfg.Height, th.Width, th.Height)
			}
		})
	}
}

func TestGenerateFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	g := NewThumbnailGenerator(ThumbnailConfig{Dir: dir})

	audio := filepath.Join(dir, "a.mp3")
	if err := os.WriteFile(audio, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := g.Generate(context.Background(), audio, mediatypes.FileTypeAudio, 0)
	var te *ThumbnailError
	if !errors.As(err, &te) || !errors.Is(err, ErrUnsupported) {
		t.Errorf("audio err = %v, want ThumbnailError/ErrUnsupported", err)
	}

	broken := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(broken, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(context.Background(), broken, mediatypes.FileTypeImage, 0); !errors.Is(err, ErrDecode) {
		t.Errorf("broken err = %v, want ErrDecode", err)
	}

	video := filepath.Join(dir, "v.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(context.Background(), video, mediatypes.FileTypeVideo, 0); !errors.Is(err, ErrTool) {
		t.Errorf("video without ffmpeg err = %v, want ErrTool", err)
	}
}

func TestStoreCachedPrune(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	g := NewThumbnailGenerator(ThumbnailConfig{Dir: dir})

	if _, _, ok := g.Cached("abc"); ok {
		t.Fatal("unexpected cache hit")
	}

	p, err := g.Store("abc", &Thumbnail{Data: []byte("data"), Format: FormatJPEG})
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(dir, "abc.jpeg") {
		t.Errorf("stored at %s", p)
	}
	if cached, format, ok := g.Cached("abc"); !ok || cached != p || format != FormatJPEG {
		t.Errorf("Cached = %s, %s, %v", cached, format, ok)
	}

	if _, err := g.Store("old", &Thumbnail{Data: []byte("x"), Format: FormatWebP}); err != nil {
		t.Fatal(err)
	}

	n, err := g.Prune(map[string]struct{}{"abc": {}})
	if err != nil || n != 1 {
		t.Errorf("Prune = %d, %v", n, err)
	}
	if _, _, ok := g.Cached("old"); ok {
		t.Error("orphan not pruned")
	}
	if _, _, ok := g.Cached("abc"); !ok {
		t.Error("referenced preview pruned")
	}
}

func TestEnsureDeduplicates(t *testing.T) {
	if IsVipsAvailable() {
		t.Skip("pure-Go path only")
	}
	t.Parallel()

	dir := t.TempDir()
	g := NewThumbnailGenerator(ThumbnailConfig{Dir: filepath.Join(dir, "cache")})
	src := filepath.Join(dir, "img.png")
	writeTestImage(t, src, 64, 64)

	var wg sync.WaitGroup
	paths := make([]string, 8)
	errs := make([]error, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], _, errs[i] = g.Ensure(context.Background(), src, mediatypes.FileTypeImage, "h1")
		}(i)
	}
	wg.Wait()

	for i := range paths {
		if errs[i] != nil {
			t.Fatalf("Ensure[%d]: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("Ensure[%d] = %s, want %s", i, paths[i], paths[0])
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("cache has %d files, want 1", len(entries))
	}
}

func TestEnsureDetachedFromCallerContext(t *testing.T) {
	if IsVipsAvailable() {
		t.Skip("pure-Go path only")
	}
	t.Parallel()

	dir := t.TempDir()
	g := NewThumbnailGenerator(ThumbnailConfig{Dir: filepath.Join(dir, "cache")})
	src := filepath.Join(dir, "img.png")
	writeTestImage(t, src, 32, 32)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Generate(cancelled, src, mediatypes.FileTypeImage, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate with cancelled ctx = %v, want context.Canceled", err)
	}

	// A caller that went away still leaves a stored preview for the others.
	path, _, err := g.Ensure(cancelled, src, mediatypes.FileTypeImage, "h2")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, _, ok := g.Cached("h2"); !ok {
		t.Errorf("preview %s not cached", path)
	}
}
