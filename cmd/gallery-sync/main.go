package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"smart-gallery/internal/database"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/indexer"
	"smart-gallery/internal/media"
	"smart-gallery/internal/startup"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "gallery-sync",
	Short: "Sync and inspect the gallery catalog without the server",
	Long: `gallery-sync runs catalog syncs and queries against the same catalog
the gallery server uses. It reads the server's environment and optional
INI config file, so BASE_OUTPUT_PATH must be set.

Do not run a sync while the server is syncing the same folders.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			os.Setenv("LOG_LEVEL", "debug")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "INI config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")
}

// app holds the components a command needs.
type app struct {
	cfg   *startup.Config
	db    *database.Database
	coord *indexer.Coordinator
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := startup.Load(startup.Options{Quiet: true, ConfigFile: configFile})
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg.DatabasePath, database.Options{BatchSize: cfg.BatchSize})
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	thumbs := media.NewThumbnailGenerator(media.ThumbnailConfig{
		Dir:         cfg.ThumbnailDir,
		Width:       cfg.ThumbnailWidth,
		Format:      cfg.ThumbnailFormat,
		Quality:     cfg.ThumbnailQuality,
		Animated:    cfg.ThumbnailAnimated,
		AnimatedFPS: cfg.AnimatedFPS,
		FFmpegPath:  cfg.FFmpegPath,
	})
	scanner := indexer.NewScanner(db, cfg.BaseDir, indexer.DirLister{}, cfg.StaleAfter)
	scanner.SetPreviewCheck(func(path string, mtime int64) bool {
		_, _, ok := thumbs.Cached(folders.ThumbHash(path, mtime))
		return ok
	})
	extractor := media.NewExtractor(media.ExtractorConfig{
		BaseDir:      cfg.BaseDir,
		FFprobePath:  cfg.FFprobePath,
		ProbeTimeout: cfg.FFprobeTimeout,
		AnimatedFPS:  cfg.AnimatedFPS,
	})
	coord := indexer.NewCoordinator(db, scanner, extractor, thumbs, indexer.Config{
		BaseDir:             cfg.BaseDir,
		Workers:             cfg.MaxWorkers,
		BatchSize:           cfg.BatchSize,
		ProgressIdleTimeout: cfg.ProgressIdleTimeout,
	})

	return &app{cfg: cfg, db: db, coord: coord}, nil
}

func (a *app) Close() {
	a.coord.Stop()
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "closing catalog: %v\n", err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
