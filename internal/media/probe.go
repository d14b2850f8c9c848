package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"smart-gallery/internal/filesystem"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/mediatypes"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DefaultAnimatedFPS is the nominal frame rate of animated WebP output.
const DefaultAnimatedFPS = 16

// gifDefaultDelay applies to GIF frames that declare no delay.
const gifDefaultDelay = 100 * time.Millisecond

// exifDateLayout is the fixed EXIF date format.
const exifDateLayout = "2006:01:02 15:04:05"

var exifDateFields = []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime}

// videoDateTags are container tags that may hold a capture date.
var videoDateTags = []string{"creation_time", "date", "com.apple.quicktime.creationdate"}

var videoDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Info holds structural attributes of a media file. Zero values mean
// unknown.
type Info struct {
	Width      int
	Height     int
	Duration   time.Duration
	Frames     int
	CreatedAt  *time.Time
	Dimensions string
}

// DurationString renders the duration as "mm:ss", or "h:mm:ss" past an hour.
func (i Info) DurationString() string {
	return FormatDuration(i.Duration)
}

// FormatDuration renders d as "mm:ss", or "h:mm:ss" when it reaches an hour.
// Non-positive durations render as "".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	total := int(d.Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Probe returns the structural attributes of p.
func (e *Extractor) Probe(ctx context.Context, p string) (Info, error) {
	abs, err := e.ResolveWithin(p)
	if err != nil {
		return Info{}, err
	}
	ft := mediatypes.Resolve(abs)
	var meta *imageMeta
	if ft == mediatypes.FileTypeImage || ft == mediatypes.FileTypeAnimatedImage {
		meta = e.loadImageMeta(abs)
	}
	return e.probe(ctx, abs, ft, meta), nil
}

// CreatedAt returns the capture date embedded in p, if any.
func (e *Extractor) CreatedAt(ctx context.Context, p string) (*time.Time, error) {
	info, err := e.Probe(ctx, p)
	if err != nil {
		return nil, err
	}
	return info.CreatedAt, nil
}

func (e *Extractor) probe(ctx context.Context, p string, ft mediatypes.FileType, meta *imageMeta) Info {
	var info Info

	switch ft {
	case mediatypes.FileTypeImage, mediatypes.FileTypeAnimatedImage:
		e.probeImage(p, ft, meta, &info)
		if meta != nil && len(meta.exif) > 0 {
			info.CreatedAt = exifDate(meta.exif)
		}

	case mediatypes.FileTypeVideo, mediatypes.FileTypeAudio:
		res, err := e.prober.probe(ctx, p, true)
		if err != nil {
			logging.Debug("Probe of %s skipped: %v", p, err)
			break
		}
		if secs, err := strconv.ParseFloat(res.Format.Duration, 64); err == nil && secs > 0 {
			info.Duration = time.Duration(secs * float64(time.Second))
		}
		if vs := res.videoStream(); vs != nil {
			info.Width, info.Height = vs.Width, vs.Height
		}
		info.CreatedAt = videoDate(res.Format.Tags)
	}

	if info.Width > 0 && info.Height > 0 {
		info.Dimensions = fmt.Sprintf("%dx%d", info.Width, info.Height)
	}
	return info
}

func (e *Extractor) probeImage(p string, ft mediatypes.FileType, meta *imageMeta, info *Info) {
	if meta != nil && meta.webp != nil && meta.webp.width > 0 {
		info.Width, info.Height = meta.webp.width, meta.webp.height
		if meta.webp.animated && meta.webp.frames > 0 {
			info.Frames = meta.webp.frames
			info.Duration = time.Duration(meta.webp.frames) * time.Second / time.Duration(e.animatedFPS)
		}
		return
	}

	f, err := filesystem.OpenWithRetry(p, e.retry)
	if err != nil {
		return
	}
	defer f.Close()

	if ft == mediatypes.FileTypeAnimatedImage && mediatypes.Ext(p) == ".gif" {
		g, err := gif.DecodeAll(f)
		if err != nil {
			logging.Debug("Decoding GIF %s: %v", p, err)
			return
		}
		info.Width, info.Height = g.Config.Width, g.Config.Height
		info.Frames = len(g.Image)
		for _, delay := range g.Delay {
			if delay <= 0 {
				info.Duration += gifDefaultDelay
			} else {
				info.Duration += time.Duration(delay) * 10 * time.Millisecond
			}
		}
		return
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		logging.Debug("Reading dimensions of %s: %v", p, err)
		return
	}
	info.Width, info.Height = cfg.Width, cfg.Height
}

// exifDate returns the first parseable date among DateTimeOriginal,
// DateTimeDigitized and DateTime. EXIF dates carry no zone; local time is
// assumed.
func exifDate(block []byte) *time.Time {
	x, err := exif.Decode(bytes.NewReader(block))
	if err != nil {
		return nil
	}
	for _, field := range exifDateFields {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			continue
		}
		t, err := time.ParseInLocation(exifDateLayout, strings.TrimSpace(strings.TrimRight(s, "\x00")), time.Local)
		if err == nil {
			return &t
		}
	}
	return nil
}

func videoDate(tags map[string]string) *time.Time {
	for _, key := range videoDateTags {
		v := strings.TrimSpace(tags[key])
		if v == "" {
			continue
		}
		for _, layout := range videoDateLayouts {
			loc := time.Local
			if strings.HasSuffix(v, "Z") {
				loc = time.UTC
			}
			if t, err := time.ParseInLocation(layout, v, loc); err == nil {
				return &t
			}
		}
	}
	return nil
}
