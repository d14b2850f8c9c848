package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"smart-gallery/internal/database"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/media"
	"smart-gallery/internal/memory"
	"smart-gallery/internal/metrics"
	"smart-gallery/internal/progress"
	"smart-gallery/internal/workers"
)

// ErrStopped is returned by StartSync after Stop.
var ErrStopped = errors.New("sync coordinator stopped")

// Config configures a Coordinator.
type Config struct {
	BaseDir string
	// Workers bounds concurrent extraction; 0 uses one per available CPU.
	Workers int
	// BatchSize is the number of entries per commit; 0 uses the store's limit.
	BatchSize           int
	ProgressIdleTimeout time.Duration
	Walker              WalkerConfig
	// Memory, when set, holds back new items under memory pressure.
	Memory *memory.Monitor
}

// Coordinator runs sync sessions. At most one session runs per folder key;
// a second request for the same key attaches to the running one.
type Coordinator struct {
	db        *database.Database
	scanner   *Scanner
	extractor *media.Extractor
	thumbs    *media.ThumbnailGenerator
	walker    *FolderWalker
	memory    *memory.Monitor

	baseDir     string
	workers     int
	batchSize   int
	idleTimeout time.Duration

	mu       sync.Mutex
	active   map[string]*Session // by folder key, running only
	sessions map[string]*Session // by id, until progress teardown
	stopped  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. thumbs may be nil to skip previews.
func NewCoordinator(db *database.Database, scanner *Scanner, extractor *media.Extractor, thumbs *media.ThumbnailGenerator, cfg Config) *Coordinator {
	n := workers.Resolve(cfg.Workers, 0)
	batch := cfg.BatchSize
	if batch <= 0 || batch > db.BatchSize() {
		batch = db.BatchSize()
	}
	if cfg.Walker.NumWorkers <= 0 {
		cfg.Walker = DefaultWalkerConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics.SyncWorkers.Set(float64(n))

	return &Coordinator{
		db:          db,
		scanner:     scanner,
		extractor:   extractor,
		thumbs:      thumbs,
		walker:      NewFolderWalker(cfg.BaseDir, cfg.Walker),
		memory:      cfg.Memory,
		baseDir:     cfg.BaseDir,
		workers:     n,
		batchSize:   batch,
		idleTimeout: cfg.ProgressIdleTimeout,
		active:      make(map[string]*Session),
		sessions:    make(map[string]*Session),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// StartSync starts a session for key, or returns the session already
// running for it. The session outlives ctx; use Stop to cancel it.
func (c *Coordinator) StartSync(ctx context.Context, key string, mode Mode) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		key = folders.RootKey
	}
	if err := c.checkFolder(ctx, key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, ErrStopped
	}
	if s, ok := c.active[key]; ok {
		metrics.SyncSessionsCoalesced.Inc()
		logging.Debug("Sync for %s already running as %s", key, s.ID)
		return s, nil
	}

	id := newSessionID()
	s := newSession(id, key, mode, c.idleTimeout, func() { c.forget(id) })
	c.active[key] = s
	c.sessions[id] = s

	c.wg.Add(1)
	go c.run(s)
	return s, nil
}

// checkFolder accepts keys for existing directories and for vanished
// directories the catalog still has entries for.
func (c *Coordinator) checkFolder(ctx context.Context, key string) error {
	dir, err := folders.Dir(c.baseDir, key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownFolder, err)
	}
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrUnknownFolder, key)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	state, err := c.db.FolderState(ctx, key)
	if err != nil {
		return err
	}
	if len(state) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownFolder, key)
	}
	return nil
}

// Session returns a session by id while it is still reachable.
func (c *Coordinator) Session(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Sessions returns a snapshot of every reachable session, newest first.
func (c *Coordinator) Sessions() []SessionInfo {
	c.mu.Lock()
	list := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.Unlock()

	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return infos
}

// BaseDir returns the directory folder keys are resolved against.
func (c *Coordinator) BaseDir() string {
	return c.baseDir
}

// Running reports whether any session is in progress.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active) > 0
}

func (c *Coordinator) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[id]; ok && s.State().Terminal() {
		delete(c.sessions, id)
	}
}

// Stop cancels every session and waits for them to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) run(s *Session) {
	defer c.wg.Done()

	start := time.Now()
	metrics.SyncSessionsRunning.Inc()
	defer metrics.SyncSessionsRunning.Dec()

	s.start(0)
	s.publish(progress.PhaseScanning, "Checking folder for changes")

	err := c.sync(c.ctx, s)

	c.mu.Lock()
	if c.active[s.FolderKey] == s {
		delete(c.active, s.FolderKey)
	}
	c.mu.Unlock()

	res := s.finish(err)

	metrics.SyncSessionsTotal.WithLabelValues(string(s.Mode), string(res.State)).Inc()
	metrics.SyncSessionDuration.WithLabelValues(string(s.Mode)).Observe(time.Since(start).Seconds())

	if err != nil {
		logging.Error("Sync %s (%s) failed after %v: %v", s.FolderKey, s.ID, time.Since(start), err)
		return
	}
	logging.Info("Sync %s complete: %d processed, %d deleted, %d failures in %v",
		s.FolderKey, res.Processed, res.Deleted, len(res.Failures), time.Since(start))
}

// sync runs one session. Deletions and scan-time refreshes are applied only
// after every processing batch has committed.
func (c *Coordinator) sync(ctx context.Context, s *Session) error {
	diff, err := c.scanner.Diff(ctx, s.FolderKey, s.Mode)
	if err != nil {
		return err
	}
	scannedAt := time.Now()
	s.setTotal(len(diff.ToProcess))

	if len(diff.ToProcess) > 0 {
		s.publish(progress.PhaseProcessing, fmt.Sprintf("Found %d new or modified files", len(diff.ToProcess)))
		if err := c.processAll(ctx, s, diff, scannedAt.Unix()); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(diff.ToDelete) > 0 {
		s.publish(progress.PhaseDeleting, fmt.Sprintf("Removing %d vanished files", len(diff.ToDelete)))
		n, err := c.db.DeleteByIDs(ctx, diff.ToDelete)
		if err != nil {
			return fmt.Errorf("failed to delete vanished entries: %w", err)
		}
		s.addDeleted(int(n))
		metrics.SyncDeletedTotal.Add(float64(n))
	}

	if len(diff.ToRefresh) > 0 {
		if err := c.db.MarkScanned(ctx, diff.ToRefresh, scannedAt); err != nil {
			return fmt.Errorf("failed to refresh scan times: %w", err)
		}
	}
	return nil
}

// processAll fans the work list out to the worker pool and commits results
// in batches. A single writer commits while the collector fills the next
// batch. On cancellation, items already running finish but their results
// are dropped and no further batch is written.
func (c *Coordinator) processAll(ctx context.Context, s *Session, diff *Diff, scannedAt int64) error {
	g, gctx := errgroup.WithContext(ctx)
	results := make(chan itemResult, c.workers)
	batches := make(chan []database.Entry, 1)

	// Producer: bounded worker pool.
	g.Go(func() error {
		defer close(results)

		pool := new(errgroup.Group)
		pool.SetLimit(c.workers)
		itemCtx := context.WithoutCancel(gctx)

		for _, p := range diff.ToProcess {
			if c.memory.Wait(gctx) != nil {
				break
			}
			j := job{path: p, folderKey: diff.FolderKey, info: diff.Files[p], scannedAt: scannedAt}
			pool.Go(func() error {
				results <- c.processItem(itemCtx, j)
				return nil
			})
		}
		return pool.Wait()
	})

	// Collector.
	g.Go(func() error {
		defer close(batches)

		batch := make([]database.Entry, 0, c.batchSize)
		flush := func() {
			if len(batch) == 0 {
				return
			}
			select {
			case batches <- batch:
			case <-gctx.Done():
			}
			batch = make([]database.Entry, 0, c.batchSize)
		}

		for r := range results {
			s.record(r.failure)
			if r.failure != nil {
				metrics.SyncItemsTotal.WithLabelValues("failure").Inc()
				logging.Warn("Failed to process %s: %s", r.failure.Path, r.failure.Reason)
			}
			s.publish(progress.PhaseProcessing, "Processing: "+r.name())
			if gctx.Err() != nil {
				if r.entry != nil {
					metrics.SyncItemsTotal.WithLabelValues("discarded").Inc()
				}
				continue
			}
			if r.entry != nil {
				batch = append(batch, *r.entry)
				if len(batch) >= c.batchSize {
					flush()
				}
			}
		}
		if gctx.Err() == nil {
			flush()
		}
		return nil
	})

	// Writer.
	g.Go(func() error {
		for batch := range batches {
			if gctx.Err() != nil {
				metrics.SyncItemsTotal.WithLabelValues("discarded").Add(float64(len(batch)))
				continue
			}
			s.publish(progress.PhaseCommitting, fmt.Sprintf("Saving %d entries", len(batch)))

			start := time.Now()
			err := c.db.UpsertBatch(context.WithoutCancel(gctx), batch, nil)
			metrics.SyncBatchDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				return fmt.Errorf("failed to commit batch of %d: %w", len(batch), err)
			}
			metrics.SyncItemsTotal.WithLabelValues("success").Add(float64(len(batch)))
		}
		return nil
	})

	return g.Wait()
}

// SyncAllResult summarises a SyncAll run.
type SyncAllResult struct {
	Folders   int      `json:"folders"`
	Processed int      `json:"processed"`
	Deleted   int      `json:"deleted"`
	Failures  int      `json:"failures"`
	Failed    []string `json:"failedFolders,omitempty"`
	Pruned    int      `json:"prunedPreviews,omitempty"`
}

// SyncAll syncs every folder below the base directory plus every folder
// the catalog still references, one at a time. A clean full run records
// the last full sync time and prunes previews no entry references.
func (c *Coordinator) SyncAll(ctx context.Context, mode Mode) (SyncAllResult, error) {
	var out SyncAllResult

	onDisk, err := c.walker.Walk(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to walk %s: %w", c.baseDir, err)
	}
	cached, err := c.db.FolderKeys(ctx)
	if err != nil {
		return out, err
	}

	keys := mapset.NewThreadUnsafeSet(onDisk...)
	keys.Append(cached...)
	all := keys.ToSlice()
	slices.Sort(all)

	for _, key := range all {
		s, err := c.StartSync(ctx, key, mode)
		if err != nil {
			if errors.Is(err, ErrUnknownFolder) {
				logging.Warn("Skipping folder %s: %v", key, err)
				continue
			}
			return out, err
		}
		res, err := s.Wait(ctx)
		if err != nil {
			return out, err
		}

		out.Folders++
		out.Processed += res.Processed
		out.Deleted += res.Deleted
		out.Failures += len(res.Failures)
		if res.State == StateFailed {
			if errors.Is(res.Err, context.Canceled) {
				return out, res.Err
			}
			out.Failed = append(out.Failed, key)
		}
	}

	if mode == ModeFull && len(out.Failed) == 0 {
		if err := c.db.SetLastFullSync(ctx, time.Now()); err != nil {
			logging.Warn("Failed to record full sync time: %v", err)
		}
		out.Pruned = c.prunePreviews(ctx)
	}

	logging.Info("Synced %d folders (%s): %d processed, %d deleted, %d failures",
		out.Folders, mode, out.Processed, out.Deleted, out.Failures)
	return out, nil
}

func (c *Coordinator) prunePreviews(ctx context.Context) int {
	if c.thumbs == nil {
		return 0
	}
	keep, err := c.db.ThumbHashes(ctx)
	if err != nil {
		logging.Warn("Failed to load preview hashes: %v", err)
		return 0
	}
	n, err := c.thumbs.Prune(keep)
	if err != nil {
		logging.Warn("Failed to prune previews: %v", err)
	}
	if n > 0 {
		logging.Info("Pruned %d orphaned previews", n)
	}
	return n
}
