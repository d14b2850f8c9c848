package startup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"smart-gallery/internal/logging"
	"smart-gallery/internal/media"
)

// Cache folder names created under the cache base.
const (
	ThumbnailDirName = ".thumbnails_cache"
	DatabaseDirName  = ".sqlite_cache"
	ZipDirName       = ".zip_downloads"
	DatabaseFileName = "gallery_cache.sqlite"

	configSection = "gallery"
)

// ErrNoBasePath is returned when BASE_OUTPUT_PATH is unset.
var ErrNoBasePath = errors.New("BASE_OUTPUT_PATH is not set")

// Config holds all application configuration
type Config struct {
	BaseDir      string
	CacheDir     string
	DatabasePath string
	ThumbnailDir string
	ZipDir       string
	Port         string

	ThumbnailWidth    int
	ThumbnailFormat   string
	ThumbnailQuality  int
	ThumbnailAnimated bool
	AnimatedFPS       int

	BatchSize      int
	MaxWorkers     int
	StaleAfter     time.Duration
	FFprobePath    string
	FFmpegPath     string
	FFprobeTimeout time.Duration
	DeleteTo       string

	WatchEnabled        bool
	WatchDebounce       time.Duration
	PollInterval        time.Duration
	RescanInterval      time.Duration
	ProgressIdleTimeout time.Duration

	ZipRetention time.Duration
	ZipLevel     int

	MetricsEnabled  bool
	LogHealthChecks bool
	LogFile         logging.FileConfig

	// MemoryLimit is the container memory limit in bytes; 0 leaves the Go
	// runtime default alone.
	MemoryLimit int64
	MemoryRatio float64

	// ConfigFile is the INI file the settings were overlaid on, if any.
	ConfigFile string
}

// Options controls Load.
type Options struct {
	// Quiet suppresses the banner and section logs, for the CLI.
	Quiet bool
	// ConfigFile overrides CONFIG_FILE.
	ConfigFile string
}

// settings resolves a key from the environment first, then from the
// [gallery] section of the optional INI file.
type settings struct {
	section *ini.Section
}

func loadSettings(path string) (settings, error) {
	if path == "" {
		return settings{}, nil
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return settings{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return settings{section: cfg.Section(configSection)}, nil
}

func (s settings) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	if s.section != nil && s.section.HasKey(key) {
		return s.section.Key(key).String(), true
	}
	return "", false
}

func (s settings) getEnv(key, defaultValue string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return defaultValue
}

func (s settings) getEnvBool(key string, defaultValue bool) bool {
	v, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logging.Warn("  Invalid %s=%q, using default: %v", key, v, defaultValue)
		return defaultValue
	}
	return b
}

func (s settings) getEnvInt(key string, defaultValue int) int {
	v, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logging.Warn("  Invalid %s=%q, using default: %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}

func (s settings) getEnvFloat(key string, defaultValue float64) float64 {
	v, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		logging.Warn("  Invalid %s=%q, using default: %v", key, v, defaultValue)
		return defaultValue
	}
	return f
}

func (s settings) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		logging.Warn("  Invalid %s=%q, using default: %v", key, v, defaultValue)
		return defaultValue
	}
	return d
}

func (s settings) getEnvBytes(key string, defaultValue int64) int64 {
	v, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	n, err := ParseBytes(v)
	if err != nil {
		logging.Warn("  Invalid %s=%q, using default: %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}

// ParseBytes parses a byte count with an optional binary suffix
// (K, M, G, T with or without "i" and "B"), e.g. "512MiB" or "2G".
func ParseBytes(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")
	s = strings.TrimSuffix(s, "I")

	mult := int64(1)
	if s != "" {
		switch s[len(s)-1] {
		case 'K':
			mult = 1 << 10
		case 'M':
			mult = 1 << 20
		case 'G':
			mult = 1 << 30
		case 'T':
			mult = 1 << 40
		}
		if mult > 1 {
			s = s[:len(s)-1]
		}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	return int64(n * float64(mult)), nil
}

// LoadConfig loads configuration from environment variables, overlaid on
// CONFIG_FILE when set, and prepares the cache directories.
func LoadConfig() (*Config, error) {
	return Load(Options{})
}

// Load is LoadConfig with options.
func Load(opts Options) (*Config, error) {
	info := logging.Info
	if opts.Quiet {
		info = logging.Debug
	} else {
		printBanner()
		logSystemInfo()
	}

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	s, err := loadSettings(configFile)
	if err != nil {
		return nil, err
	}

	info("------------------------------------------------------------")
	info("CONFIGURATION")
	info("------------------------------------------------------------")
	if configFile != "" {
		info("  CONFIG_FILE:           %s", configFile)
	}

	baseDir := s.getEnv("BASE_OUTPUT_PATH", "")
	if baseDir == "" {
		return nil, ErrNoBasePath
	}
	baseDir, err = filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	st, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("base path %s: %w", baseDir, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("base path %s is not a directory", baseDir)
	}

	format := strings.ToLower(s.getEnv("THUMBNAIL_FORMAT", media.FormatWebP))
	cfg := &Config{
		BaseDir:             baseDir,
		CacheDir:            s.getEnv("CACHE_DIR", baseDir),
		Port:                s.getEnv("PORT", "8189"),
		ThumbnailWidth:      s.getEnvInt("THUMBNAIL_WIDTH", media.DefaultThumbnailWidth),
		ThumbnailFormat:     format,
		ThumbnailQuality:    s.getEnvInt("THUMBNAIL_QUALITY", media.DefaultQuality(format)),
		ThumbnailAnimated:   s.getEnvBool("THUMBNAIL_ANIMATED", false),
		AnimatedFPS:         s.getEnvInt("WEBP_ANIMATED_FPS", media.DefaultAnimatedFPS),
		BatchSize:           s.getEnvInt("BATCH_SIZE", 500),
		MaxWorkers:          s.getEnvInt("MAX_PARALLEL_WORKERS", 0),
		StaleAfter:          s.getEnvDuration("STALE_AFTER", time.Hour),
		FFprobeTimeout:      s.getEnvDuration("FFPROBE_TIMEOUT", 15*time.Second),
		DeleteTo:            s.getEnv("DELETE_TO", ""),
		WatchEnabled:        s.getEnvBool("WATCH_ENABLED", true),
		WatchDebounce:       s.getEnvDuration("WATCH_DEBOUNCE", 2*time.Second),
		PollInterval:        s.getEnvDuration("POLL_INTERVAL", 30*time.Second),
		RescanInterval:      s.getEnvDuration("RESCAN_INTERVAL", 0),
		ProgressIdleTimeout: s.getEnvDuration("PROGRESS_IDLE_TIMEOUT", 2*time.Minute),
		ZipRetention:        s.getEnvDuration("ZIP_RETENTION", 24*time.Hour),
		ZipLevel:            s.getEnvInt("ZIP_COMPRESSION_LEVEL", 6),
		MetricsEnabled:      s.getEnvBool("METRICS_ENABLED", true),
		LogHealthChecks:     s.getEnvBool("LOG_HEALTH_CHECKS", false),
		LogFile: logging.FileConfig{
			Path:       s.getEnv("LOG_FILE", ""),
			MaxSizeMB:  s.getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: s.getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: s.getEnvInt("LOG_MAX_AGE_DAYS", 28),
			Compress:   s.getEnvBool("LOG_COMPRESS", true),
		},
		MemoryLimit: s.getEnvBytes("MEMORY_LIMIT", 0),
		MemoryRatio: s.getEnvFloat("MEMORY_RATIO", 0),
		ConfigFile:  configFile,
	}

	cfg.FFprobePath = media.FindTool(s.getEnv("FFPROBE_MANUAL_PATH", ""), "ffprobe")
	cfg.FFmpegPath = media.FindTool(s.getEnv("FFMPEG_MANUAL_PATH", ""), "ffmpeg")

	if cfg.DeleteTo != "" {
		if cfg.DeleteTo, err = filepath.Abs(cfg.DeleteTo); err != nil {
			return nil, fmt.Errorf("failed to resolve DELETE_TO: %w", err)
		}
		if err := ensureDirectory(cfg.DeleteTo, "trash"); err != nil {
			return nil, fmt.Errorf("DELETE_TO: %w", err)
		}
	}

	info("  BASE_OUTPUT_PATH:      %s", cfg.BaseDir)
	info("  CACHE_DIR:             %s", cfg.CacheDir)
	info("  PORT:                  %s", cfg.Port)
	info("  THUMBNAIL:             %dpx %s q%d (animated: %v)",
		cfg.ThumbnailWidth, cfg.ThumbnailFormat, cfg.ThumbnailQuality, cfg.ThumbnailAnimated)
	info("  BATCH_SIZE:            %d", cfg.BatchSize)
	info("  MAX_PARALLEL_WORKERS:  %d", cfg.MaxWorkers)
	info("  STALE_AFTER:           %v", cfg.StaleAfter)
	info("  DELETE_TO:             %s", orDefault(cfg.DeleteTo, "(permanent delete)"))
	info("  WATCH_ENABLED:         %v", cfg.WatchEnabled)
	info("  RESCAN_INTERVAL:       %v", cfg.RescanInterval)
	info("  ZIP_RETENTION:         %v", cfg.ZipRetention)
	info("  METRICS_ENABLED:       %v", cfg.MetricsEnabled)
	info("  LOG_LEVEL:             %s", logging.GetLevel())

	info("")
	info("------------------------------------------------------------")
	info("DIRECTORY SETUP")
	info("------------------------------------------------------------")

	cacheBase, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	cfg.CacheDir = cacheBase

	if cfg.ThumbnailDir, err = cacheDir(cacheBase, ThumbnailDirName); err != nil {
		return nil, err
	}
	dbDir, err := cacheDir(cacheBase, DatabaseDirName)
	if err != nil {
		return nil, err
	}
	cfg.DatabasePath = filepath.Join(dbDir, DatabaseFileName)
	if cfg.ZipDir, err = cacheDir(cacheBase, ZipDirName); err != nil {
		return nil, err
	}

	info("  Thumbnails: %s", cfg.ThumbnailDir)
	info("  Catalog:    %s", cfg.DatabasePath)
	info("  Archives:   %s", cfg.ZipDir)

	return cfg, nil
}

// cacheDir prepares base/name, falling back to the system temp directory
// when base is not writable.
func cacheDir(base, name string) (string, error) {
	dir := filepath.Join(base, name)
	err := ensureDirectory(dir, name)
	if err == nil {
		err = testWriteAccess(dir)
	}
	if err == nil {
		return dir, nil
	}

	fallback := filepath.Join(os.TempDir(), "smart-gallery", name)
	logging.Warn("  %s is not usable (%v), falling back to %s", dir, err, fallback)
	if err := ensureDirectory(fallback, name); err != nil {
		return "", fmt.Errorf("cache directory %s: %w", name, err)
	}
	if err := testWriteAccess(fallback); err != nil {
		return "", fmt.Errorf("cache directory %s is not writable: %w", fallback, err)
	}
	return fallback, nil
}

// ToolVersion returns the first line of `<path> -version`.
func ToolVersion(path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
