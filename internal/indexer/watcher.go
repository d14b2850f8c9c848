package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fsnotify/fsnotify"

	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/mediatypes"
	"smart-gallery/internal/metrics"
)

// DefaultWatchDebounce is the quiet period after the last event in a folder
// before a sync is triggered.
const DefaultWatchDebounce = 2 * time.Second

// Watcher turns filesystem events into debounced per-folder sync triggers.
type Watcher struct {
	baseDir  string
	debounce time.Duration
	trigger  func(key string)

	watcher *fsnotify.Watcher
	watched mapset.Set[string]

	mu     sync.Mutex
	timers map[string]*time.Timer

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for baseDir and all visible subfolders.
// trigger runs in its own goroutine once per quiet folder.
func NewWatcher(baseDir string, debounce time.Duration, trigger func(key string)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		baseDir:  baseDir,
		debounce: debounce,
		trigger:  trigger,
		watcher:  fw,
		watched:  mapset.NewSet[string](),
		timers:   make(map[string]*time.Timer),
		stopChan: make(chan struct{}),
	}, nil
}

// Start registers watches and begins processing events.
func (w *Watcher) Start() {
	w.addRecursive(w.baseDir)
	logging.Info("Watching %d folders for new files (debounce %v)", w.watched.Cardinality(), w.debounce)

	w.wg.Add(1)
	go w.loop()
}

// Stop closes the underlying watcher and cancels pending triggers.
func (w *Watcher) Stop() {
	close(w.stopChan)
	if err := w.watcher.Close(); err != nil {
		logging.Warn("Error closing watcher: %v", err)
	}
	w.wg.Wait()

	w.mu.Lock()
	for key, t := range w.timers {
		t.Stop()
		delete(w.timers, key)
	}
	w.mu.Unlock()
	metrics.WatchedDirectories.Set(0)
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Watcher error: %v", err)
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if folders.IsHidden(name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		metrics.WatcherEventsTotal.WithLabelValues("create").Inc()
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			logging.Debug("New directory detected: %s", event.Name)
			w.addRecursive(event.Name)
			w.scheduleDir(event.Name)
			return
		}
	case event.Has(fsnotify.Write):
		metrics.WatcherEventsTotal.WithLabelValues("write").Inc()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op := "remove"
		if event.Has(fsnotify.Rename) {
			op = "rename"
		}
		metrics.WatcherEventsTotal.WithLabelValues(op).Inc()
		if w.watched.Contains(event.Name) {
			w.forgetDir(event.Name)
			w.scheduleDir(event.Name)
		}
	default:
		return
	}

	if !mediatypes.IsMediaFile(mediatypes.Ext(name)) {
		return
	}
	w.scheduleDir(filepath.Dir(event.Name))
}

// scheduleDir (re)starts the debounce timer for the folder at dir.
func (w *Watcher) scheduleDir(dir string) {
	key, err := folders.Key(w.baseDir, dir)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[key]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[key] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, key)
		w.mu.Unlock()

		select {
		case <-w.stopChan:
			return
		default:
		}
		w.trigger(key)
	})
}

func (w *Watcher) addRecursive(root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Debug("Watch walk error on %s: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.baseDir && folders.IsHidden(d.Name()) {
			return filepath.SkipDir
		}
		if w.watched.Contains(path) {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			logging.Warn("Failed to watch %s: %v", path, err)
			return nil
		}
		w.watched.Add(path)
		return nil
	})
	if err != nil {
		logging.Warn("Failed to walk %s for watching: %v", root, err)
	}
	metrics.WatchedDirectories.Set(float64(w.watched.Cardinality()))
}

// forgetDir drops dir and everything below it from the watch set.
func (w *Watcher) forgetDir(dir string) {
	prefix := dir + string(filepath.Separator)
	for _, p := range w.watched.ToSlice() {
		if p == dir || strings.HasPrefix(p, prefix) {
			w.watched.Remove(p)
		}
	}
	metrics.WatchedDirectories.Set(float64(w.watched.Cardinality()))
}

// Watched reports whether dir is being watched.
func (w *Watcher) Watched(dir string) bool {
	return w.watched.Contains(dir)
}
