package indexer

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"smart-gallery/internal/filesystem"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
)

// WalkerConfig configures the folder walker.
type WalkerConfig struct {
	// NumWorkers is the number of directories read concurrently.
	NumWorkers int
	// SkipHidden skips directories starting with "." (the cache directories
	// live there).
	SkipHidden bool
	Retry      filesystem.RetryConfig
}

// DefaultWalkerConfig returns defaults that are safe on NFS.
// INDEX_WORKERS overrides the worker count.
func DefaultWalkerConfig() WalkerConfig {
	numWorkers := 3
	if override := os.Getenv("INDEX_WORKERS"); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			numWorkers = count
		}
	}

	return WalkerConfig{
		NumWorkers: numWorkers,
		SkipHidden: true,
		Retry:      filesystem.DefaultRetryConfig(),
	}
}

// FolderWalker discovers every folder key below a base directory, reading
// directories in parallel. Symlinked directories are not followed.
type FolderWalker struct {
	config  WalkerConfig
	baseDir string

	foldersFound atomic.Int64
	errorsCount  atomic.Int64
}

// NewFolderWalker creates a walker rooted at baseDir.
func NewFolderWalker(baseDir string, config WalkerConfig) *FolderWalker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	return &FolderWalker{config: config, baseDir: baseDir}
}

// Walk returns the sorted keys of baseDir and all its visible subfolders.
// Unreadable directories are logged and skipped.
func (w *FolderWalker) Walk(ctx context.Context) ([]string, error) {
	startTime := time.Now()
	w.foldersFound.Store(0)
	w.errorsCount.Store(0)

	var (
		mu   sync.Mutex
		keys []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.NumWorkers)

	var visit func(dir string) error
	visit = func(dir string) error {
		if err := gctx.Err(); err != nil {
			return err
		}

		key, err := folders.Key(w.baseDir, dir)
		if err != nil {
			w.errorsCount.Add(1)
			logging.Warn("Skipping %s: %v", dir, err)
			return nil
		}
		mu.Lock()
		keys = append(keys, key)
		mu.Unlock()
		w.foldersFound.Add(1)

		entries, err := filesystem.ReadDirWithRetry(dir, w.config.Retry)
		if err != nil {
			w.errorsCount.Add(1)
			logging.Warn("Error reading directory %s: %v", dir, err)
			return nil
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if w.config.SkipHidden && folders.IsHidden(entry.Name()) {
				continue
			}
			sub := filepath.Join(dir, entry.Name())
			// Run inline when the pool is full so a busy pool never waits
			// on itself.
			if !g.TryGo(func() error { return visit(sub) }) {
				if err := visit(sub); err != nil {
					return err
				}
			}
		}
		return nil
	}

	g.Go(func() error { return visit(w.baseDir) })
	err := g.Wait()

	slices.Sort(keys)
	logging.Debug("Folder walk complete: %d folders in %v (errors: %d)",
		w.foldersFound.Load(), time.Since(startTime), w.errorsCount.Load())
	return keys, err
}

// Stats returns the counters of the last walk.
func (w *FolderWalker) Stats() (found, errors int64) {
	return w.foldersFound.Load(), w.errorsCount.Load()
}
