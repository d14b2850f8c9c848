package media

import (
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"smart-gallery/internal/logging"
)

var (
	vipsMu        sync.Mutex
	vipsAvailable bool
)

// vipsThreshold maps the application log level to the least severe libvips
// message that is forwarded.
var vipsThreshold = map[logging.LogLevel]vips.LogLevel{
	logging.LevelDebug: vips.LogLevelInfo,
	logging.LevelInfo:  vips.LogLevelWarning,
	logging.LevelWarn:  vips.LogLevelError,
	logging.LevelError: vips.LogLevelCritical,
}

// InitVips starts libvips. It is safe to call more than once; only the
// first call has an effect.
func InitVips() {
	vipsMu.Lock()
	defer vipsMu.Unlock()

	if vipsAvailable {
		return
	}

	threshold, ok := vipsThreshold[logging.GetLevel()]
	if !ok {
		threshold = vips.LogLevelWarning
	}

	// libvips log levels grow more verbose as the value increases.
	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		switch {
		case level > threshold:
		case level <= vips.LogLevelCritical:
			logging.Error("[%s] %s", domain, msg)
		case level == vips.LogLevelWarning:
			logging.Warn("[%s] %s", domain, msg)
		default:
			logging.Debug("[%s] %s", domain, msg)
		}
	}, threshold)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsAvailable = true
	logging.Info("libvips initialized (version: %s)", vips.Version)
}

// ShutdownVips releases libvips resources.
func ShutdownVips() {
	vipsMu.Lock()
	defer vipsMu.Unlock()

	if vipsAvailable {
		vips.Shutdown()
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable reports whether InitVips has run.
func IsVipsAvailable() bool {
	vipsMu.Lock()
	defer vipsMu.Unlock()
	return vipsAvailable
}

// vipsRender shrinks an image loaded by load to fit within width x 2*width,
// never enlarging it, and encodes it in format.
func vipsRender(load func() (*vips.ImageRef, error), width int, format string, quality int) (*Thumbnail, error) {
	ref, err := load()
	if err != nil {
		return nil, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		logging.Debug("vips auto-rotate failed: %v", err)
	}

	if err := ref.ThumbnailWithSize(width, 2*width, vips.InterestingNone, vips.SizeDown); err != nil {
		return nil, fmt.Errorf("vips thumbnail: %w", err)
	}

	var data []byte
	switch format {
	case FormatWebP:
		data, _, err = ref.ExportWebp(&vips.WebpExportParams{
			Quality:         quality,
			StripMetadata:   true,
			ReductionEffort: 4,
		})
	default:
		data, _, err = ref.ExportJpeg(&vips.JpegExportParams{
			Quality:        quality,
			StripMetadata:  true,
			OptimizeCoding: true,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("vips export %s: %w", format, err)
	}

	return &Thumbnail{Data: data, Format: format, Width: ref.Width(), Height: ref.Height()}, nil
}

func vipsFromFile(path string) func() (*vips.ImageRef, error) {
	return func() (*vips.ImageRef, error) {
		return vips.LoadImageFromFile(path, vips.NewImportParams())
	}
}

func vipsFromBuffer(buf []byte) func() (*vips.ImageRef, error) {
	return func() (*vips.ImageRef, error) {
		return vips.NewImageFromBuffer(buf)
	}
}
