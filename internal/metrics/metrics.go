package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smart_gallery_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Catalog store metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_db_queries_total",
			Help: "Total number of catalog queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smart_gallery_db_query_duration_seconds",
			Help:    "Catalog query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smart_gallery_db_transaction_duration_seconds",
			Help:    "Catalog batch transaction duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"}, // "commit", "rollback"
	)

	DBBatchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_db_batch_retries_total",
			Help: "Number of catalog batches that were retried after a failed commit",
		},
	)

	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smart_gallery_db_rows_affected",
			Help:    "Rows affected per catalog write",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"operation"},
	)

	DBRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_db_rebuilds_total",
			Help: "Number of times the catalog was dropped and recreated because of a schema version mismatch",
		},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_db_connections_open",
			Help: "Number of open catalog connections",
		},
	)
)

// Sync metrics
var (
	SyncSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_sync_sessions_total",
			Help: "Sync sessions by mode and terminal state",
		},
		[]string{"mode", "state"},
	)

	SyncSessionsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_sync_sessions_coalesced_total",
			Help: "Sync triggers that attached to an already running session",
		},
	)

	SyncSessionsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_sync_sessions_running",
			Help: "Number of sync sessions currently running",
		},
	)

	SyncSessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smart_gallery_sync_session_duration_seconds",
			Help:    "Wall time of sync sessions",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"mode"},
	)

	SyncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_sync_items_total",
			Help: "Work items handled by sync workers",
		},
		[]string{"result"}, // "success", "failure", "discarded"
	)

	SyncDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_sync_deleted_total",
			Help: "Catalog entries removed because their file vanished",
		},
	)

	SyncWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_sync_workers",
			Help: "Configured worker pool size",
		},
	)

	SyncBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smart_gallery_sync_batch_commit_seconds",
			Help:    "Time to commit one batch of results, including a retry",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_watcher_events_total",
			Help: "Filesystem notifications received by the watcher",
		},
		[]string{"op"},
	)

	WatchedDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_watched_directories",
			Help: "Directories registered with the filesystem watcher",
		},
	)
)

// Media pipeline metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_thumbnail_generations_total",
			Help: "Thumbnails generated by source type, output format and status",
		},
		[]string{"type", "format", "status"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smart_gallery_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"},
	)

	ThumbnailCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_thumbnail_cache_hits_total",
			Help: "Thumbnail requests served from the cache directory",
		},
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_thumbnail_cache_misses_total",
			Help: "Thumbnail requests that required generation",
		},
	)

	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_workflow_extractions_total",
			Help: "Parameter graph extraction results by source",
		},
		[]string{"source"}, // "png", "exif", "ffprobe", "scan", "none"
	)

	ProberDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smart_gallery_prober_duration_seconds",
			Help:    "Duration of external prober invocations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
	)

	ProberFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_prober_failures_total",
			Help: "External prober invocations that failed",
		},
		[]string{"reason"}, // "missing", "timeout", "error", "parse"
	)
)

// Progress and archive metrics
var (
	ProgressListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_progress_listeners",
			Help: "Listeners currently attached to progress streams",
		},
	)

	ArchiveJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_archive_jobs_total",
			Help: "Archive jobs by terminal status",
		},
		[]string{"status"},
	)

	ArchiveBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_archive_bytes_total",
			Help: "Bytes written into archive files",
		},
	)

	ArchiveDownloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_archive_download_bytes_total",
			Help: "Archive bytes sent to clients",
		},
	)

	ArchiveDownloadTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_archive_download_timeouts_total",
			Help: "Archive downloads abandoned because the client stopped reading",
		},
	)
)

// Memory backpressure metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_memory_usage_ratio",
			Help: "Heap allocation as a share of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_memory_paused",
			Help: "1 while new sync work is held back for memory pressure",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smart_gallery_memory_pauses_total",
			Help: "Times sync work was paused for memory pressure",
		},
	)
)

// Catalog contents, refreshed by the Collector
var (
	CatalogEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smart_gallery_catalog_entries",
			Help: "Catalog entries by media type",
		},
		[]string{"type"},
	)

	CatalogFavorites = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_catalog_favorites",
			Help: "Catalog entries marked favorite",
		},
	)

	CatalogWithWorkflow = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smart_gallery_catalog_with_workflow",
			Help: "Catalog entries carrying an embedded parameter graph",
		},
	)
)

// Filesystem metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_filesystem_retry_attempts_total",
			Help: "Retries of filesystem operations after a stale file handle",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_gallery_filesystem_retry_failures_total",
			Help: "Filesystem operations that failed after exhausting retries",
		},
		[]string{"operation"},
	)

	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smart_gallery_filesystem_operation_duration_seconds",
			Help:    "Duration of filesystem operations including retries",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// AppInfo exposes build information as labels.
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "smart_gallery_app_info",
		Help: "Application build information",
	},
	[]string{"version", "commit", "go_version"},
)
