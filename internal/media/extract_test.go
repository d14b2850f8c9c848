package media

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"smart-gallery/internal/mediatypes"
)

// pngChunk encodes one PNG chunk with its CRC.
func pngChunk(kind string, data []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
	buf.WriteString(kind)
	buf.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(kind))
	crc.Write(data)
	_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

// writePNG writes a 4x2 PNG with extra chunks inserted after IHDR.
func writePNG(t *testing.T, path string, chunks ...[]byte) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	// signature (8) + IHDR chunk (4+4+13+4)
	const ihdrEnd = 8 + 25
	out := append([]byte{}, raw[:ihdrEnd]...)
	for _, c := range chunks {
		out = append(out, c...)
	}
	out = append(out, raw[ihdrEnd:]...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatal(err)
	}
}

func textChunk(key, value string) []byte {
	return pngChunk("tEXt", append([]byte(key+"\x00"), value...))
}

func zTextChunk(t *testing.T, key, value string) []byte {
	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	if _, err := w.Write([]byte(value)); err != nil {
		t.Fatal(err)
	}
	w.Close()
	return pngChunk("zTXt", append([]byte(key+"\x00\x00"), z.Bytes()...))
}

func iTextChunk(key, value string) []byte {
	data := []byte(key + "\x00\x00\x00en\x00\x00" + value)
	return pngChunk("iTXt", data)
}

func TestReadPNGMeta(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path,
		textChunk("prompt", apiGraph),
		zTextChunk(t, "workflow", uiGraph),
		iTextChunk("parameters", "steps: 20"),
	)

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	meta, err := readImageMeta(f)
	if err != nil {
		t.Fatalf("readImageMeta: %v", err)
	}
	if meta.text["prompt"] != apiGraph {
		t.Error("tEXt prompt not decoded")
	}
	if meta.text["workflow"] != uiGraph {
		t.Error("zTXt workflow not inflated")
	}
	if meta.text["parameters"] != "steps: 20" {
		t.Errorf("iTXt = %q", meta.text["parameters"])
	}
}

func TestExtractFromPNGPrefersUI(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "gen.png")
	writePNG(t, path, textChunk("prompt", apiGraph), textChunk("workflow", uiGraph))

	e := NewExtractor(ExtractorConfig{BaseDir: dir})
	g, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if g == nil || g.Format != GraphFormatUI {
		t.Fatalf("graph = %+v, want UI form", g)
	}
}

func TestExtractAPIFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "api.png")
	writePNG(t, path, textChunk("prompt", apiGraph))

	g, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if g == nil || g.Format != GraphFormatAPI {
		t.Fatalf("graph = %+v, want API form", g)
	}
}

func TestExtractNone(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "plain.png")
	writePNG(t, path)

	g, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), path)
	if err != nil || g != nil {
		t.Errorf("Extract = %v, %v; want nil, nil", g, err)
	}
}

func TestExtractRawScanWithoutProber(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	data := append([]byte("\x00\x00\x00\x18ftypmp42 garbage "), apiGraph...)
	data = append(data, " trailing"...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor(ExtractorConfig{BaseDir: dir})
	g, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if g == nil || g.Format != GraphFormatAPI {
		t.Fatalf("raw scan graph = %+v", g)
	}
}

func TestExtractScanLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "late.mp4")
	data := append(bytes.Repeat([]byte{0}, 1024), apiGraph...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := NewExtractor(ExtractorConfig{MaxScanBytes: 512}).Extract(context.Background(), path)
	if err != nil || g != nil {
		t.Errorf("graph beyond scan limit found: %v, %v", g, err)
	}
}

func TestExtractRejectsOutsideBase(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	outside := filepath.Join(t.TempDir(), "x.png")
	writePNG(t, outside, textChunk("prompt", apiGraph))

	e := NewExtractor(ExtractorConfig{BaseDir: base})
	if _, err := e.Extract(context.Background(), outside); !errors.Is(err, os.ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
	if _, err := e.Analyze(context.Background(), filepath.Join(base, "..", "x.png")); !errors.Is(err, os.ErrPermission) {
		t.Errorf("Analyze err = %v, want ErrPermission", err)
	}
}

func TestFromExifBraceScan(t *testing.T) {
	t.Parallel()

	block := append([]byte("Exif\x00\x00not-a-tiff "), apiGraph...)
	meta := &imageMeta{exif: block}

	c := &graphCollector{}
	if !NewExtractor(ExtractorConfig{}).fromExif(meta, c) {
		t.Fatal("no graph found in EXIF block")
	}
	if c.best.Format != GraphFormatAPI {
		t.Errorf("format = %s", c.best.Format)
	}
}

func TestAnalyzePNG(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "gen.png")
	writePNG(t, path, textChunk("workflow", uiGraph))

	md, err := NewExtractor(ExtractorConfig{BaseDir: dir}).Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if md.Type != mediatypes.FileTypeImage {
		t.Errorf("Type = %s", md.Type)
	}
	if md.Info.Dimensions != "4x2" {
		t.Errorf("Dimensions = %q", md.Info.Dimensions)
	}
	if !md.HasWorkflow || len(md.Models) != 1 || len(md.Loras) != 1 || len(md.InputFiles) != 2 {
		t.Errorf("metadata = %+v", md)
	}
}

func TestAnalyzeMissingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := NewExtractor(ExtractorConfig{BaseDir: dir}).Analyze(context.Background(), filepath.Join(dir, "gone.png")); err == nil {
		t.Error("expected error for missing file")
	}
}
