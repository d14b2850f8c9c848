package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"smart-gallery/internal/archive"
	"smart-gallery/internal/database"
	"smart-gallery/internal/fileops"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/handlers"
	"smart-gallery/internal/indexer"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/media"
	"smart-gallery/internal/memory"
	"smart-gallery/internal/metrics"
	"smart-gallery/internal/middleware"
	"smart-gallery/internal/startup"
	"smart-gallery/internal/workers"
)

const (
	shutdownTimeout   = 30 * time.Second
	collectInterval   = time.Minute
	readHeaderTimeout = 15 * time.Second
)

// components are the long-running parts stopped on shutdown.
type components struct {
	server    *http.Server
	indexer   *indexer.Indexer
	archives  *archive.Manager
	monitor   *memory.Monitor
	collector *metrics.Collector
	db        *database.Database
}

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	if config.LogFile.Path != "" {
		if err := logging.EnableFile(config.LogFile); err != nil {
			logging.Warn("Log file disabled: %v", err)
		}
	}

	memory.ApplyLimit(config.MemoryLimit, config.MemoryRatio)
	monitorCfg := memory.DefaultConfig()
	monitorCfg.LimitBytes = config.MemoryLimit
	monitor := memory.NewMonitor(monitorCfg)
	monitor.Start()

	metrics.InitializeMetrics(startup.Version, startup.Commit, startup.GoVersion)

	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath, database.Options{BatchSize: config.BatchSize})
	if err != nil {
		startup.LogFatal("Failed to initialize catalog: %v", err)
	}
	startup.LogDatabaseInit(config.DatabasePath, time.Since(dbStart), db.Rebuilt())

	media.InitVips()
	startup.LogMediaInit(config, media.IsVipsAvailable())

	extractor := media.NewExtractor(media.ExtractorConfig{
		BaseDir:      config.BaseDir,
		FFprobePath:  config.FFprobePath,
		ProbeTimeout: config.FFprobeTimeout,
		AnimatedFPS:  config.AnimatedFPS,
	})
	thumbs := media.NewThumbnailGenerator(media.ThumbnailConfig{
		Dir:         config.ThumbnailDir,
		Width:       config.ThumbnailWidth,
		Format:      config.ThumbnailFormat,
		Quality:     config.ThumbnailQuality,
		Animated:    config.ThumbnailAnimated,
		AnimatedFPS: config.AnimatedFPS,
		FFmpegPath:  config.FFmpegPath,
	})

	scanner := indexer.NewScanner(db, config.BaseDir, indexer.DirLister{}, config.StaleAfter)
	scanner.SetPreviewCheck(func(path string, mtime int64) bool {
		_, _, ok := thumbs.Cached(folders.ThumbHash(path, mtime))
		return ok
	})

	workerCount := workers.Resolve(config.MaxWorkers, 0)
	startup.LogIndexerInit(config, workerCount)
	coord := indexer.NewCoordinator(db, scanner, extractor, thumbs, indexer.Config{
		BaseDir:             config.BaseDir,
		Workers:             workerCount,
		BatchSize:           config.BatchSize,
		ProgressIdleTimeout: config.ProgressIdleTimeout,
		Memory:              monitor,
	})
	idx := indexer.New(coord, config.BaseDir, indexer.Options{
		WatchEnabled:   config.WatchEnabled,
		WatchDebounce:  config.WatchDebounce,
		PollInterval:   config.PollInterval,
		RescanInterval: config.RescanInterval,
	})
	idx.Start()
	startup.LogIndexerStarted()

	archives, err := archive.NewManager(db, archive.Config{
		Dir:       config.ZipDir,
		Retention: config.ZipRetention,
		Level:     config.ZipLevel,
	})
	if err != nil {
		startup.LogFatal("Failed to initialize archives: %v", err)
	}
	archives.Start()

	var collector *metrics.Collector
	if config.MetricsEnabled {
		collector = metrics.NewCollector(db, collectInterval)
		collector.Start()
	}

	h := handlers.New(handlers.Deps{
		DB:        db,
		Indexer:   idx,
		Files:     fileops.New(db, config.BaseDir, config.DeleteTo),
		Archives:  archives,
		Extractor: extractor,
		Thumbs:    thumbs,
	})

	router := mux.NewRouter()
	h.Register(router)
	if config.MetricsEnabled {
		router.Handle("/metrics", h.MetricsHandler()).Methods("GET")
	}
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           withMiddleware(router, config),
		ReadHeaderTimeout: readHeaderTimeout,
		// Event streams and archive downloads stay open; handlers manage
		// their own write deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go handleShutdown(done, components{
		server:    srv,
		indexer:   idx,
		archives:  archives,
		monitor:   monitor,
		collector: collector,
		db:        db,
	})

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		BaseDir:         config.BaseDir,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

// withMiddleware wraps the router in compression, request logging and, when
// enabled, request metrics.
func withMiddleware(router http.Handler, config *startup.Config) http.Handler {
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	handler := middleware.Compression(middleware.DefaultCompressionConfig())(router)
	handler = middleware.Logger(loggingConfig)(handler)
	if config.MetricsEnabled {
		handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	}
	return handler
}

func handleShutdown(done chan<- struct{}, c components) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	started := time.Now()
	startup.LogShutdownInitiated(sig.String())

	if c.collector != nil {
		c.collector.Stop()
	}
	_ = startup.ShutdownStep("Sync stopped", quiet(c.indexer.Stop))
	_ = startup.ShutdownStep("Archive jobs stopped", quiet(c.archives.Stop))

	// Sessions end first so their event streams close before the server
	// waits on open connections.
	_ = startup.ShutdownStep("HTTP server stopped", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.server.Shutdown(ctx); err != nil {
			_ = c.server.Close()
			return err
		}
		return nil
	})

	c.monitor.Stop()
	media.ShutdownVips()
	_ = startup.ShutdownStep("Catalog closed", c.db.Close)

	startup.LogShutdownComplete(started)
	_ = logging.Close()
}

func quiet(stop func()) func() error {
	return func() error {
		stop()
		return nil
	}
}
