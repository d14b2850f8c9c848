package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"smart-gallery/internal/filesystem"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/mediatypes"
	"smart-gallery/internal/metrics"
)

// DefaultMaxScanBytes caps the raw byte scan of a single file.
const DefaultMaxScanBytes = 64 << 20

// exifTextFields are EXIF tags some generators use to carry a graph.
var exifTextFields = []exif.FieldName{exif.UserComment, exif.ImageDescription, exif.Make, exif.Model}

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	// BaseDir confines every path handed to the extractor. Empty disables
	// the check.
	BaseDir      string
	FFprobePath  string
	ProbeTimeout time.Duration
	MaxScanBytes int64
	// AnimatedFPS is the nominal frame rate used to derive the duration of
	// animated WebP files.
	AnimatedFPS int
}

// Extractor reads embedded generation graphs and structural attributes
// from media files.
type Extractor struct {
	baseDir      string
	prober       *Prober
	maxScanBytes int64
	animatedFPS  int
	retry        filesystem.RetryConfig
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	e := &Extractor{
		baseDir:      cfg.BaseDir,
		prober:       NewProber(cfg.FFprobePath, cfg.ProbeTimeout),
		maxScanBytes: cfg.MaxScanBytes,
		animatedFPS:  cfg.AnimatedFPS,
		retry:        filesystem.DefaultRetryConfig(),
	}
	if e.maxScanBytes <= 0 {
		e.maxScanBytes = DefaultMaxScanBytes
	}
	if e.animatedFPS <= 0 {
		e.animatedFPS = DefaultAnimatedFPS
	}
	return e
}

// ResolveWithin makes p absolute and rejects it with os.ErrPermission when it
// lies outside the configured base directory.
func (e *Extractor) ResolveWithin(p string) (string, error) {
	if e.baseDir == "" {
		return p, nil
	}
	return folders.Within(e.baseDir, p)
}

// Extract returns the embedded parameter graph of p. A nil graph with a nil
// error means the file carries none. The first UI-form graph found wins; the
// first API-form graph is kept as a fallback.
func (e *Extractor) Extract(ctx context.Context, p string) (*ParameterGraph, error) {
	abs, err := e.ResolveWithin(p)
	if err != nil {
		return nil, err
	}
	return e.extract(ctx, abs, mediatypes.Resolve(abs), nil)
}

func (e *Extractor) extract(ctx context.Context, p string, ft mediatypes.FileType, meta *imageMeta) (*ParameterGraph, error) {
	c := &graphCollector{}
	source := "none"

	switch ft {
	case mediatypes.FileTypeVideo:
		if e.fromFFprobe(ctx, p, c) {
			source = "ffprobe"
		}
	default:
		if meta == nil {
			meta = e.loadImageMeta(p)
		}
		if meta != nil {
			if e.fromText(meta, c) {
				source = "png"
			} else if !c.done() && e.fromExif(meta, c) {
				source = "exif"
			}
		}
	}

	if !c.done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := e.fromRawScan(p, c)
		if err != nil {
			return nil, err
		}
		if found && source == "none" {
			source = "scan"
		}
	}

	metrics.ExtractionsTotal.WithLabelValues(source).Inc()
	return c.best, nil
}

// offerAll feeds candidates until the collector is satisfied and reports
// whether any candidate was accepted.
func offerAll(c *graphCollector, candidates ...string) bool {
	before := c.best
	for _, cand := range candidates {
		if c.offer([]byte(cand)) {
			break
		}
	}
	return c.best != before
}

func (e *Extractor) fromFFprobe(ctx context.Context, p string, c *graphCollector) bool {
	res, err := e.prober.probe(ctx, p, false)
	if err != nil {
		logging.Debug("ffprobe skipped for %s: %v", p, err)
		return false
	}
	var candidates []string
	for _, v := range res.Format.Tags {
		if strings.HasPrefix(strings.TrimSpace(v), "{") {
			candidates = append(candidates, v)
		}
	}
	return offerAll(c, candidates...)
}

func (e *Extractor) loadImageMeta(p string) *imageMeta {
	f, err := filesystem.OpenWithRetry(p, e.retry)
	if err != nil {
		return nil
	}
	defer f.Close()

	meta, err := readImageMeta(f)
	if err != nil {
		logging.Debug("Reading metadata blocks of %s: %v", p, err)
		return nil
	}
	return meta
}

func (e *Extractor) fromText(meta *imageMeta, c *graphCollector) bool {
	var candidates []string
	for _, key := range []string{"workflow", "prompt"} {
		if v, ok := meta.text[key]; ok && v != "" {
			candidates = append(candidates, v)
		}
	}
	return offerAll(c, candidates...)
}

func (e *Extractor) fromExif(meta *imageMeta, c *graphCollector) bool {
	if len(meta.exif) == 0 {
		return false
	}
	before := c.best

	// Tagged fields first: "workflow:{...}" or "prompt:{...}".
	if x, err := exif.Decode(bytes.NewReader(meta.exif)); err == nil {
		for _, field := range exifTextFields {
			tag, err := x.Get(field)
			if err != nil {
				continue
			}
			text := string(tag.Val)
			for _, prefix := range []string{"workflow:", "prompt:"} {
				idx := strings.Index(strings.ToLower(text), prefix+"{")
				if idx < 0 {
					continue
				}
				for cand := range jsonObjects([]byte(text[idx+len(prefix):])) {
					g, ok := ParseGraph(cand)
					if !ok {
						continue
					}
					if c.accept(g) {
						return true
					}
					break
				}
			}
		}
	}

	if c.best == nil {
		for cand := range jsonObjects(meta.exif) {
			if c.offer(cand) {
				break
			}
		}
	}
	return c.best != before
}

// fromRawScan scans the leading bytes of the file for JSON objects.
func (e *Extractor) fromRawScan(p string, c *graphCollector) (bool, error) {
	f, err := filesystem.OpenWithRetry(p, e.retry)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, e.maxScanBytes))
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", p, err)
	}

	before := c.best
	for cand := range jsonObjects(data) {
		if c.offer(cand) {
			break
		}
	}
	return c.best != before, nil
}

// Metadata is everything the catalog records about a file's contents.
type Metadata struct {
	Type        mediatypes.FileType
	Info        Info
	Graph       *ParameterGraph
	Models      []string
	Loras       []string
	InputFiles  []string
	HasWorkflow bool
}

// Analyze probes p and extracts its parameter graph in one pass over the
// container metadata.
func (e *Extractor) Analyze(ctx context.Context, p string) (*Metadata, error) {
	abs, err := e.ResolveWithin(p)
	if err != nil {
		return nil, err
	}
	if _, err := filesystem.StatWithRetry(abs, e.retry); err != nil {
		return nil, err
	}

	ft := mediatypes.Resolve(abs)
	md := &Metadata{Type: ft}

	var meta *imageMeta
	if ft == mediatypes.FileTypeImage || ft == mediatypes.FileTypeAnimatedImage {
		meta = e.loadImageMeta(abs)
	}

	md.Info = e.probe(ctx, abs, ft, meta)

	if ft.Capabilities().Extract {
		graph, err := e.extract(ctx, abs, ft, meta)
		if err != nil {
			return nil, err
		}
		if graph != nil {
			md.Graph = graph
			md.HasWorkflow = true
			md.Models = graph.Models()
			md.Loras = graph.Loras()
			md.InputFiles = graph.InputFiles()
		}
	}
	return md, nil
}
