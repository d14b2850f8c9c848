package indexer

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"smart-gallery/internal/filesystem"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/metrics"
)

const (
	// Default polling interval for change detection when watching is off.
	defaultPollInterval = 30 * time.Second
)

// Options controls the background behaviour of an Indexer.
type Options struct {
	// WatchEnabled starts an fsnotify watcher. If it cannot start, the
	// indexer falls back to polling directory modification times.
	WatchEnabled  bool
	WatchDebounce time.Duration
	// PollInterval is used when the watcher is disabled or unavailable;
	// negative disables polling.
	PollInterval time.Duration
	// RescanInterval runs SyncAll(recent) periodically; 0 disables it.
	RescanInterval time.Duration
	// SkipInitialSync leaves the catalog untouched at startup.
	SkipInitialSync bool
}

// Indexer keeps the catalog in step with the base directory: an initial
// full sync, new-file detection and scheduled rescans, all driven through
// the Coordinator.
type Indexer struct {
	coord   *Coordinator
	baseDir string
	opts    Options

	stopChan  chan struct{}
	wg        sync.WaitGroup
	startTime time.Time
	watcher   *Watcher

	indexMu           sync.Mutex
	isIndexing        bool
	lastIndexTime     time.Time
	initialComplete   bool
	initialIndexError error

	// Last known folder modification times for polling.
	stateMu     sync.Mutex
	dirModTimes map[string]time.Time

	onIndexComplete func(SyncAllResult)
}

// New creates an Indexer around coord.
func New(coord *Coordinator, baseDir string, opts Options) *Indexer {
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Indexer{
		coord:       coord,
		baseDir:     baseDir,
		opts:        opts,
		stopChan:    make(chan struct{}),
		startTime:   time.Now(),
		dirModTimes: make(map[string]time.Time),
	}
}

// SetOnIndexComplete sets a callback invoked after every SyncAll run.
func (idx *Indexer) SetOnIndexComplete(callback func(SyncAllResult)) {
	idx.onIndexComplete = callback
}

// Coordinator returns the underlying coordinator.
func (idx *Indexer) Coordinator() *Coordinator {
	return idx.coord
}

// Start runs the initial sync in the background and starts change
// detection and scheduled rescans.
func (idx *Indexer) Start() {
	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		if !idx.opts.SkipInitialSync {
			logging.Info("Starting initial sync in background...")
			if _, err := idx.Index(ModeFull); err != nil {
				logging.Error("Initial sync error: %v", err)
				idx.indexMu.Lock()
				idx.initialIndexError = err
				idx.indexMu.Unlock()
			}
		}
		idx.indexMu.Lock()
		idx.initialComplete = true
		idx.indexMu.Unlock()

		idx.startChangeDetection()
	}()

	if idx.opts.RescanInterval > 0 {
		idx.wg.Add(1)
		go idx.periodicIndex()
	}
}

// Stop stops background work and cancels running sessions.
func (idx *Indexer) Stop() {
	close(idx.stopChan)
	idx.coord.Stop()
	idx.wg.Wait()

	idx.indexMu.Lock()
	w := idx.watcher
	idx.watcher = nil
	idx.indexMu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func (idx *Indexer) startChangeDetection() {
	select {
	case <-idx.stopChan:
		return
	default:
	}

	if idx.opts.WatchEnabled {
		w, err := NewWatcher(idx.baseDir, idx.opts.WatchDebounce, idx.triggerFolder)
		if err == nil {
			idx.indexMu.Lock()
			idx.watcher = w
			idx.indexMu.Unlock()
			w.Start()
			return
		}
		logging.Warn("File watching unavailable, falling back to polling: %v", err)
	}

	if idx.opts.PollInterval > 0 {
		idx.wg.Add(1)
		go idx.pollForChanges()
	}
}

// triggerFolder starts a sync for one folder after detected changes.
func (idx *Indexer) triggerFolder(key string) {
	s, err := idx.coord.StartSync(context.Background(), key, ModeFull)
	if err != nil {
		if !errors.Is(err, ErrStopped) {
			logging.Debug("Change in %s not synced: %v", key, err)
		}
		return
	}
	logging.Debug("Change detected in %s, sync %s", key, s.ID)
}

// IsReady reports whether the initial sync has finished.
func (idx *Indexer) IsReady() bool {
	idx.indexMu.Lock()
	defer idx.indexMu.Unlock()
	return idx.initialComplete
}

// HealthStatus contains health check information.
type HealthStatus struct {
	Ready            bool          `json:"ready"`
	Indexing         bool          `json:"indexing"`
	StartTime        time.Time     `json:"startTime"`
	Uptime           string        `json:"uptime"`
	LastIndexed      time.Time     `json:"lastIndexed,omitempty"`
	InitialSyncError string        `json:"initialSyncError,omitempty"`
	Watching         bool          `json:"watching"`
	Sessions         []SessionInfo `json:"sessions,omitempty"`
}

// GetHealthStatus returns detailed health information.
func (idx *Indexer) GetHealthStatus() HealthStatus {
	idx.indexMu.Lock()
	status := HealthStatus{
		Ready:       idx.initialComplete,
		Indexing:    idx.isIndexing || idx.coord.Running(),
		StartTime:   idx.startTime,
		Uptime:      time.Since(idx.startTime).Round(time.Second).String(),
		LastIndexed: idx.lastIndexTime,
		Watching:    idx.watcher != nil,
	}
	if idx.initialIndexError != nil {
		status.InitialSyncError = idx.initialIndexError.Error()
	}
	idx.indexMu.Unlock()

	status.Sessions = idx.coord.Sessions()
	return status
}

// Index runs SyncAll unless one is already in progress.
func (idx *Indexer) Index(mode Mode) (SyncAllResult, error) {
	if !idx.tryStartIndexing() {
		logging.Info("Sync of all folders already in progress, skipping")
		return SyncAllResult{}, nil
	}
	defer idx.finishIndexing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-idx.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := idx.coord.SyncAll(ctx, mode)
	if err != nil {
		return res, err
	}

	idx.indexMu.Lock()
	idx.lastIndexTime = time.Now()
	idx.indexMu.Unlock()

	idx.updateLastKnownState(ctx)
	if idx.onIndexComplete != nil {
		idx.onIndexComplete(res)
	}
	return res, nil
}

func (idx *Indexer) tryStartIndexing() bool {
	idx.indexMu.Lock()
	defer idx.indexMu.Unlock()
	if idx.isIndexing {
		return false
	}
	idx.isIndexing = true
	return true
}

func (idx *Indexer) finishIndexing() {
	idx.indexMu.Lock()
	idx.isIndexing = false
	idx.indexMu.Unlock()
}

// TriggerIndex starts SyncAll in the background.
func (idx *Indexer) TriggerIndex(mode Mode) {
	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		if _, err := idx.Index(mode); err != nil {
			logging.Error("Triggered sync failed: %v", err)
		}
	}()
}

// IsIndexing reports whether SyncAll is running.
func (idx *Indexer) IsIndexing() bool {
	idx.indexMu.Lock()
	defer idx.indexMu.Unlock()
	return idx.isIndexing
}

// LastIndexTime returns when SyncAll last completed.
func (idx *Indexer) LastIndexTime() time.Time {
	idx.indexMu.Lock()
	defer idx.indexMu.Unlock()
	return idx.lastIndexTime
}

// periodicIndex runs SyncAll(recent) on the rescan interval.
func (idx *Indexer) periodicIndex() {
	defer idx.wg.Done()

	ticker := time.NewTicker(idx.opts.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := idx.Index(ModeRecent); err != nil {
				logging.Error("Scheduled rescan failed: %v", err)
			}
		case <-idx.stopChan:
			return
		}
	}
}

// pollForChanges periodically compares folder modification times. A
// directory's mtime changes when entries are added, removed or renamed in
// it, so only changed folders are synced.
func (idx *Indexer) pollForChanges() {
	defer idx.wg.Done()

	logging.Info("Starting change detection polling (interval: %v)", idx.opts.PollInterval)

	idx.stateMu.Lock()
	empty := len(idx.dirModTimes) == 0
	idx.stateMu.Unlock()
	if empty {
		idx.updateLastKnownState(context.Background())
	}

	ticker := time.NewTicker(idx.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, key := range idx.detectChanges(context.Background()) {
				idx.triggerFolder(key)
			}
		case <-idx.stopChan:
			logging.Info("Change detection polling stopped")
			return
		}
	}
}

// detectChanges returns the keys of folders whose modification time moved
// or that appeared or vanished since the last check. The tree is only
// re-walked when some known folder changed.
func (idx *Indexer) detectChanges(ctx context.Context) []string {
	start := time.Now()
	defer func() {
		metrics.WatcherEventsTotal.WithLabelValues("poll").Inc()
		logging.Debug("Change poll took %v", time.Since(start))
	}()

	idx.stateMu.Lock()
	defer idx.stateMu.Unlock()

	var changed []string
	rewalk := false
	retry := filesystem.DefaultRetryConfig()

	for key, last := range idx.dirModTimes {
		dir, err := folders.Dir(idx.baseDir, key)
		if err != nil {
			delete(idx.dirModTimes, key)
			continue
		}
		info, err := filesystem.StatWithRetry(dir, retry)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				delete(idx.dirModTimes, key)
				changed = append(changed, key)
				rewalk = true
			}
			continue
		}
		if info.ModTime().After(last) {
			idx.dirModTimes[key] = info.ModTime()
			changed = append(changed, key)
			rewalk = true
		}
	}

	if !rewalk {
		return changed
	}

	keys, err := idx.coord.walker.Walk(ctx)
	if err != nil {
		logging.Warn("Error walking %s: %v", idx.baseDir, err)
		return changed
	}
	for _, key := range keys {
		if _, known := idx.dirModTimes[key]; known {
			continue
		}
		dir, err := folders.Dir(idx.baseDir, key)
		if err != nil {
			continue
		}
		info, err := filesystem.StatWithRetry(dir, retry)
		if err != nil {
			continue
		}
		idx.dirModTimes[key] = info.ModTime()
		changed = append(changed, key)
	}
	return changed
}

// updateLastKnownState records folder modification times after a sync so
// polling only reports later changes.
func (idx *Indexer) updateLastKnownState(ctx context.Context) {
	keys, err := idx.coord.walker.Walk(ctx)
	if err != nil {
		logging.Warn("Failed to record folder state: %v", err)
		return
	}

	retry := filesystem.DefaultRetryConfig()
	state := make(map[string]time.Time, len(keys))
	for _, key := range keys {
		dir, err := folders.Dir(idx.baseDir, key)
		if err != nil {
			continue
		}
		if info, err := filesystem.StatWithRetry(dir, retry); err == nil {
			state[key] = info.ModTime()
		}
	}

	idx.stateMu.Lock()
	idx.dirModTimes = state
	idx.stateMu.Unlock()
}
