// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Configuration is read from environment variables by [LoadConfig]. When
// CONFIG_FILE names an INI file, its [gallery] section supplies values for
// any variable that is unset; the environment always wins. Keys are case
// insensitive in the file.
//
//   - BASE_OUTPUT_PATH: media root, required and must exist
//   - CACHE_DIR: parent of the .thumbnails_cache, .sqlite_cache and
//     .zip_downloads folders (default: BASE_OUTPUT_PATH)
//   - PORT: HTTP server port (default: 8189)
//   - THUMBNAIL_WIDTH, THUMBNAIL_FORMAT, THUMBNAIL_QUALITY, THUMBNAIL_ANIMATED,
//     WEBP_ANIMATED_FPS: preview settings (300, webp, 70 or 80, false, 16)
//   - BATCH_SIZE: entries per catalog commit (default: 500)
//   - MAX_PARALLEL_WORKERS: extraction workers (default: one per CPU)
//   - STALE_AFTER: age at which a recent sync revisits an entry (default: 1h)
//   - FFPROBE_MANUAL_PATH, FFMPEG_MANUAL_PATH, FFPROBE_TIMEOUT
//   - DELETE_TO: trash folder; empty deletes permanently
//   - WATCH_ENABLED, WATCH_DEBOUNCE, POLL_INTERVAL, RESCAN_INTERVAL
//   - PROGRESS_IDLE_TIMEOUT, ZIP_RETENTION, ZIP_COMPRESSION_LEVEL
//   - METRICS_ENABLED, LOG_HEALTH_CHECKS, LOG_LEVEL
//   - LOG_FILE, LOG_MAX_SIZE_MB, LOG_MAX_BACKUPS, LOG_MAX_AGE_DAYS, LOG_COMPRESS
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT
//
// Cache folders that cannot be created or written fall back to the system
// temp directory with a warning. A missing ffmpeg or ffprobe is a warning
// too; the features that need them are skipped.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Lifecycle Logging
//
//   - [LogDatabaseInit]: catalog path, timing and schema rebuilds
//   - [LogMediaInit]: libvips, ffprobe and ffmpeg availability
//   - [LogIndexerInit]: workers and change detection
//   - [LogHTTPRoutes]: route counts per group; the full table at debug level
//   - [LogServerStarted]: listening address and startup duration
//   - [LogShutdownInitiated], [ShutdownStep], [LogShutdownComplete]
package startup
