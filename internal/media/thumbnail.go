package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"smart-gallery/internal/logging"
	"smart-gallery/internal/mediatypes"
	"smart-gallery/internal/metrics"
)

// Output formats.
const (
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
)

const (
	// DefaultThumbnailWidth is the target width of previews.
	DefaultThumbnailWidth = 300
	// DefaultAnimatedSeconds limits how much of a clip an animated preview covers.
	DefaultAnimatedSeconds = 3
	defaultFFmpegTimeout   = 60 * time.Second
	// sharedGenerateTimeout bounds a generation shared by concurrent Ensure calls.
	sharedGenerateTimeout  = 2 * time.Minute
)

// Failure reasons carried by ThumbnailError.
var (
	ErrUnsupported = errors.New("unsupported media type")
	ErrDecode      = errors.New("decode failed")
	ErrEncode      = errors.New("encode failed")
	ErrTool        = errors.New("external tool failed")
)

// ThumbnailError reports why a preview could not be produced.
type ThumbnailError struct {
	Path   string
	Reason error
	Err    error
}

func (e *ThumbnailError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("thumbnail %s: %v", e.Path, e.Reason)
	}
	return fmt.Sprintf("thumbnail %s: %v: %v", e.Path, e.Reason, e.Err)
}

func (e *ThumbnailError) Unwrap() []error {
	return []error{e.Reason, e.Err}
}

// Thumbnail is an encoded preview.
type Thumbnail struct {
	Data     []byte
	Format   string
	Width    int
	Height   int
	Animated bool
}

// ThumbnailConfig configures a ThumbnailGenerator.
type ThumbnailConfig struct {
	Dir                string
	Width              int
	Format             string
	Quality            int
	Animated           bool
	AnimatedFPS        int
	AnimatedMaxSeconds int
	FFmpegPath         string
	FFmpegTimeout      time.Duration
}

// DefaultQuality returns the encoder quality used when none is configured.
func DefaultQuality(format string) int {
	if format == FormatJPEG {
		return 80
	}
	return 70
}

// ThumbnailGenerator renders previews and keeps them in a cache directory
// named by content hash.
type ThumbnailGenerator struct {
	cfg   ThumbnailConfig
	group singleflight.Group
}

// NewThumbnailGenerator creates a generator, filling unset config fields
// with defaults and creating the cache directory.
func NewThumbnailGenerator(cfg ThumbnailConfig) *ThumbnailGenerator {
	if cfg.Width <= 0 {
		cfg.Width = DefaultThumbnailWidth
	}
	if cfg.Format != FormatJPEG {
		cfg.Format = FormatWebP
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality(cfg.Format)
	}
	if cfg.AnimatedFPS <= 0 {
		cfg.AnimatedFPS = DefaultAnimatedFPS
	}
	if cfg.AnimatedMaxSeconds <= 0 {
		cfg.AnimatedMaxSeconds = DefaultAnimatedSeconds
	}
	if cfg.FFmpegTimeout <= 0 {
		cfg.FFmpegTimeout = defaultFFmpegTimeout
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			logging.Warn("ThumbnailGenerator: failed to create cache dir: %v", err)
		}
	}
	logging.Debug("ThumbnailGenerator: dir=%s width=%d format=%s quality=%d animated=%v",
		cfg.Dir, cfg.Width, cfg.Format, cfg.Quality, cfg.Animated)

	return &ThumbnailGenerator{cfg: cfg}
}

// Generate renders a preview of p that fits inside width x 2*width without
// enlarging the source. A width of zero uses the configured width.
func (g *ThumbnailGenerator) Generate(ctx context.Context, p string, ft mediatypes.FileType, width int) (*Thumbnail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if width <= 0 {
		width = g.cfg.Width
	}

	start := time.Now()
	th, err := g.generate(ctx, p, ft, width)

	status, format := "success", g.staticFormat()
	if th != nil {
		format = th.Format
	}
	if err != nil {
		status = "error"
		if errors.Is(err, ErrUnsupported) {
			status = "unsupported"
		}
	}
	metrics.ThumbnailGenerationsTotal.WithLabelValues(string(ft), format, status).Inc()
	metrics.ThumbnailGenerationDuration.WithLabelValues(string(ft)).Observe(time.Since(start).Seconds())

	return th, err
}

func (g *ThumbnailGenerator) generate(ctx context.Context, p string, ft mediatypes.FileType, width int) (*Thumbnail, error) {
	if !ft.Capabilities().Thumbnail {
		return nil, &ThumbnailError{Path: p, Reason: ErrUnsupported}
	}
	if _, err := os.Stat(p); err != nil {
		return nil, &ThumbnailError{Path: p, Reason: ErrDecode, Err: err}
	}

	switch ft {
	case mediatypes.FileTypeImage:
		return g.fromFile(ctx, p, width)

	case mediatypes.FileTypeAnimatedImage:
		// ffmpeg cannot decode animated WebP; those get a still preview.
		if g.cfg.Animated && mediatypes.Ext(p) == ".gif" {
			th, err := g.animated(ctx, p, width)
			if err == nil {
				return th, nil
			}
			logging.Debug("Animated preview of %s failed, using first frame: %v", p, err)
		}
		return g.fromFile(ctx, p, width)

	case mediatypes.FileTypeVideo:
		if g.cfg.Animated {
			th, err := g.animated(ctx, p, width)
			if err == nil {
				return th, nil
			}
			logging.Debug("Animated preview of %s failed, using still frame: %v", p, err)
		}
		frame, err := g.stillFrame(ctx, p)
		if err != nil {
			return nil, &ThumbnailError{Path: p, Reason: ErrTool, Err: err}
		}
		return g.fromBytes(p, frame, width)
	}

	return nil, &ThumbnailError{Path: p, Reason: ErrUnsupported}
}

// staticFormat is the format still previews are written in. WebP needs
// libvips; without it previews fall back to JPEG.
func (g *ThumbnailGenerator) staticFormat() string {
	if g.cfg.Format == FormatWebP && !IsVipsAvailable() {
		return FormatJPEG
	}
	return g.cfg.Format
}

func (g *ThumbnailGenerator) quality(format string) int {
	if format == g.cfg.Format {
		return g.cfg.Quality
	}
	return DefaultQuality(format)
}

func (g *ThumbnailGenerator) fromFile(ctx context.Context, p string, width int) (*Thumbnail, error) {
	format := g.staticFormat()

	if IsVipsAvailable() {
		th, err := vipsRender(vipsFromFile(p), width, format, g.quality(format))
		if err == nil {
			return th, nil
		}
		logging.Debug("vips failed for %s, trying pure-Go decode: %v", p, err)
	}

	img, err := loadConstrained(p)
	if err != nil {
		logging.Debug("Decode failed for %s: %v, trying ffmpeg", p, err)
		frame, ffErr := g.runFFmpegFrame(ctx, p, "")
		if ffErr != nil {
			return nil, &ThumbnailError{Path: p, Reason: ErrDecode, Err: errors.Join(err, ffErr)}
		}
		return g.fromBytes(p, frame, width)
	}

	th, err := encodeImage(img, width, g.quality(FormatJPEG))
	if err != nil {
		return nil, &ThumbnailError{Path: p, Reason: ErrEncode, Err: err}
	}
	return th, nil
}

// fromBytes renders a preview from an encoded frame.
func (g *ThumbnailGenerator) fromBytes(p string, data []byte, width int) (*Thumbnail, error) {
	format := g.staticFormat()

	if IsVipsAvailable() {
		th, err := vipsRender(vipsFromBuffer(data), width, format, g.quality(format))
		if err == nil {
			return th, nil
		}
		logging.Debug("vips failed on frame of %s: %v", p, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ThumbnailError{Path: p, Reason: ErrDecode, Err: err}
	}
	th, err := encodeImage(img, width, g.quality(FormatJPEG))
	if err != nil {
		return nil, &ThumbnailError{Path: p, Reason: ErrEncode, Err: err}
	}
	return th, nil
}

// stillFrame grabs a representative frame one second in, falling back to
// the first frame for very short clips.
func (g *ThumbnailGenerator) stillFrame(ctx context.Context, p string) ([]byte, error) {
	frame, err := g.runFFmpegFrame(ctx, p, "00:00:01")
	if err == nil {
		return frame, nil
	}
	logging.Debug("ffmpeg seek failed for %s: %v, retrying at first frame", p, err)
	return g.runFFmpegFrame(ctx, p, "")
}

func (g *ThumbnailGenerator) runFFmpegFrame(ctx context.Context, p, seek string) ([]byte, error) {
	if g.cfg.FFmpegPath == "" {
		return nil, ErrToolMissing
	}

	args := []string{"-v", "error"}
	if seek != "" {
		args = append(args, "-ss", seek)
	}
	args = append(args, "-i", p, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-")

	out, err := g.runFFmpeg(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", p)
	}
	return out, nil
}

// animated renders an animated WebP preview with ffmpeg.
func (g *ThumbnailGenerator) animated(ctx context.Context, p string, width int) (*Thumbnail, error) {
	if g.cfg.FFmpegPath == "" {
		return nil, &ThumbnailError{Path: p, Reason: ErrTool, Err: ErrToolMissing}
	}

	tmp, err := os.CreateTemp(g.cfg.Dir, ".anim-*.webp")
	if err != nil {
		return nil, &ThumbnailError{Path: p, Reason: ErrEncode, Err: err}
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	filter := fmt.Sprintf("fps=%d,scale='min(iw,%d)':'min(ih,%d)':force_original_aspect_ratio=decrease:flags=lanczos",
		g.cfg.AnimatedFPS, width, 2*width)
	args := []string{
		"-v", "error", "-y",
		"-t", fmt.Sprint(g.cfg.AnimatedMaxSeconds),
		"-i", p,
		"-vf", filter,
		"-an", "-loop", "0",
		"-c:v", "libwebp", "-quality", fmt.Sprint(g.quality(FormatWebP)),
		"-f", "webp", tmpPath,
	}
	if _, err := g.runFFmpeg(ctx, args); err != nil {
		return nil, &ThumbnailError{Path: p, Reason: ErrTool, Err: err}
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil || len(data) == 0 {
		return nil, &ThumbnailError{Path: p, Reason: ErrEncode, Err: err}
	}

	th := &Thumbnail{Data: data, Format: FormatWebP, Animated: true}
	if meta, err := readWebPMeta(bytes.NewReader(data)); err == nil && meta.webp != nil {
		th.Width, th.Height = meta.webp.width, meta.webp.height
	}
	return th, nil
}

func (g *ThumbnailGenerator) runFFmpeg(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.FFmpegTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.cfg.FFmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// CachePath returns where a preview with hash and format is stored.
func (g *ThumbnailGenerator) CachePath(hash, format string) string {
	return filepath.Join(g.cfg.Dir, hash+"."+format)
}

// Cached looks up a stored preview by hash.
func (g *ThumbnailGenerator) Cached(hash string) (path, format string, ok bool) {
	for _, f := range []string{FormatWebP, FormatJPEG} {
		p := g.CachePath(hash, f)
		if info, err := os.Stat(p); err == nil && info.Size() > 0 {
			return p, f, true
		}
	}
	return "", "", false
}

// Store writes th to the cache under hash, atomically replacing any
// previous file.
func (g *ThumbnailGenerator) Store(hash string, th *Thumbnail) (string, error) {
	dst := g.CachePath(hash, th.Format)

	tmp, err := os.CreateTemp(g.cfg.Dir, ".thumb-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(th.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dst, nil
}

// Ensure returns the cached preview for hash, generating and storing it
// when missing. Concurrent calls for the same hash share one generation.
func (g *ThumbnailGenerator) Ensure(ctx context.Context, p string, ft mediatypes.FileType, hash string) (string, string, error) {
	if cached, format, ok := g.Cached(hash); ok {
		metrics.ThumbnailCacheHits.Inc()
		return cached, format, nil
	}
	metrics.ThumbnailCacheMisses.Inc()

	// Generation is shared by every caller waiting on hash, so it runs
	// detached from the first caller's ctx.
	v, err, _ := g.group.Do(hash, func() (any, error) {
		if cached, format, ok := g.Cached(hash); ok {
			return [2]string{cached, format}, nil
		}
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedGenerateTimeout)
		defer cancel()
		th, err := g.Generate(genCtx, p, ft, 0)
		if err != nil {
			return nil, err
		}
		stored, err := g.Store(hash, th)
		if err != nil {
			return nil, err
		}
		return [2]string{stored, th.Format}, nil
	})
	if err != nil {
		return "", "", err
	}
	res := v.([2]string)
	return res[0], res[1], nil
}

// Prune removes cached previews whose hash is not in keep and returns how
// many files were deleted.
func (g *ThumbnailGenerator) Prune(keep map[string]struct{}) (int, error) {
	entries, err := os.ReadDir(g.cfg.Dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		hash := strings.TrimSuffix(name, filepath.Ext(name))
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := keep[hash]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(g.cfg.Dir, name)); err != nil {
			logging.Warn("Failed to prune thumbnail %s: %v", name, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Width returns the configured preview width.
func (g *ThumbnailGenerator) Width() int {
	return g.cfg.Width
}
