package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/tidwall/btree"

	"smart-gallery/internal/database"
	"smart-gallery/internal/filesystem"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/metrics"
)

const (
	// DefaultRetention is how long finished archives are kept.
	DefaultRetention = 24 * time.Hour
	// DefaultLevel is the deflate level used for archive entries.
	DefaultLevel = 6

	zipExt = ".zip"
	tmpExt = ".tmp"
)

var (
	// ErrNoFiles is returned by Submit when no ids are given.
	ErrNoFiles = errors.New("no files specified")
	// ErrNotFound is returned for unknown or purged jobs.
	ErrNotFound = errors.New("archive job not found")
	// ErrNotReady is returned when the archive of a job cannot be served yet.
	ErrNotReady = errors.New("archive not ready")
)

// Status is the state of an archive job.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Config configures a Manager.
type Config struct {
	Dir       string
	Retention time.Duration
	Level     int
}

// Info is a snapshot of a job.
type Info struct {
	ID         string     `json:"jobId"`
	Status     Status     `json:"status"`
	Files      int        `json:"files"`
	Skipped    int        `json:"skipped,omitempty"`
	Size       int64      `json:"size,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type job struct {
	info Info
	ids  []string
	path string
	done chan struct{}
}

// Manager builds zip archives of catalogued files in the background.
type Manager struct {
	db        *database.Database
	dir       string
	retention time.Duration
	level     int
	now       func() time.Time

	mu   sync.Mutex
	jobs *btree.Map[string, *job]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager writing into cfg.Dir, creating it if needed.
func NewManager(db *database.Database, cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("archive directory not set")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Level == 0 || cfg.Level < flate.HuffmanOnly || cfg.Level > flate.BestCompression {
		cfg.Level = DefaultLevel
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		db:        db,
		dir:       cfg.Dir,
		retention: cfg.Retention,
		level:     cfg.Level,
		now:       time.Now,
		jobs:      btree.NewMap[string, *job](0),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start runs the janitor that purges expired archives.
func (m *Manager) Start() {
	interval := m.retention / 24
	if interval < time.Minute {
		interval = time.Minute
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.Purge()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Purge()
			case <-m.ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels running jobs and waits for background work to finish.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Submit starts building an archive of the given catalog ids and returns
// the job id.
func (m *Manager) Submit(ids []string) (string, error) {
	unique := mapset.NewThreadUnsafeSetWithSize[string](len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && unique.Add(id) {
			ordered = append(ordered, id)
		}
	}
	if len(ordered) == 0 {
		return "", ErrNoFiles
	}
	if err := m.ctx.Err(); err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	j := &job{
		info: Info{ID: id.String(), Status: StatusPending, CreatedAt: m.now()},
		ids:  ordered,
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs.Set(j.info.ID, j)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(j)
	}()

	logging.Info("Archive job %s started for %d file(s)", j.info.ID, len(ordered))
	return j.info.ID, nil
}

// Status returns a snapshot of the job.
func (m *Manager) Status(id string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs.Get(id)
	if !ok {
		return Info{}, ErrNotFound
	}
	return j.info, nil
}

// Done returns a channel closed when the job reaches a terminal status.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return j.done, nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Info, error) {
	done, err := m.Done(id)
	if err != nil {
		return Info{}, err
	}
	select {
	case <-done:
		return m.Status(id)
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// Open returns the finished archive of a job for download.
func (m *Manager) Open(id string) (*os.File, Info, error) {
	m.mu.Lock()
	j, ok := m.jobs.Get(id)
	var info Info
	var path string
	if ok {
		info, path = j.info, j.path
	}
	m.mu.Unlock()

	if !ok {
		return nil, Info{}, ErrNotFound
	}
	if info.Status != StatusReady {
		return nil, info, ErrNotReady
	}
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, info, err
	}
	return f, info, nil
}

// FileName is the download name offered for a job's archive.
func FileName(id string) string {
	return "gallery_" + id + zipExt
}

func (m *Manager) run(j *job) {
	start := time.Now()
	files, skipped, size, err := m.build(j)

	m.mu.Lock()
	finished := m.now()
	j.info.FinishedAt = &finished
	j.info.Files = files
	j.info.Skipped = skipped
	if err != nil {
		j.info.Status = StatusFailed
		j.info.Error = err.Error()
	} else {
		j.info.Status = StatusReady
		j.info.Size = size
	}
	close(j.done)
	m.mu.Unlock()

	metrics.ArchiveJobsTotal.WithLabelValues(string(j.info.Status)).Inc()
	if err != nil {
		logging.Error("Archive job %s failed: %v", j.info.ID, err)
		return
	}
	metrics.ArchiveBytes.Add(float64(size))
	logging.Info("Archive job %s ready: %d file(s), %d skipped, %d bytes in %v",
		j.info.ID, files, skipped, size, time.Since(start).Round(time.Millisecond))
}

// build writes the archive to a temporary file and renames it into place,
// so a partially written archive is never served.
func (m *Manager) build(j *job) (files, skipped int, size int64, err error) {
	entries, err := m.db.GetByIDs(m.ctx, j.ids)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("loading entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, 0, 0, errors.New("no valid files found")
	}
	skipped = len(j.ids) - len(entries)

	final := filepath.Join(m.dir, j.info.ID+zipExt)
	tmp := final + tmpExt
	out, err := os.Create(tmp)
	if err != nil {
		return 0, skipped, 0, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, m.level)
	})

	names := mapset.NewThreadUnsafeSet[string]()
	for _, e := range entries {
		if err = m.ctx.Err(); err != nil {
			break
		}
		name := filesystem.UniqueName(e.Name, func(candidate string) bool {
			return names.Contains(strings.ToLower(candidate))
		})
		added, addErr := addFile(zw, e.Path, name)
		if addErr != nil {
			err = fmt.Errorf("adding %s: %w", e.Name, addErr)
			break
		}
		if !added {
			logging.Debug("Archive %s: %s missing on disk, skipped", j.info.ID, e.Path)
			skipped++
			continue
		}
		names.Add(strings.ToLower(name))
		files++
	}

	if closeErr := zw.Close(); err == nil {
		err = closeErr
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && files == 0 {
		err = errors.New("no valid files found")
	}
	if err != nil {
		return files, skipped, 0, err
	}

	if err = os.Rename(tmp, final); err != nil {
		return files, skipped, 0, err
	}
	info, err := os.Stat(final)
	if err != nil {
		return files, skipped, 0, err
	}

	m.mu.Lock()
	j.path = final
	m.mu.Unlock()
	return files, skipped, info.Size(), nil
}

// addFile copies one file into the archive. It reports false when the
// file no longer exists.
func addFile(zw *zip.Writer, path, name string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(w, f); err != nil {
		return false, err
	}
	return true, nil
}

// Purge removes jobs and archive files older than the retention period.
// Job ids are time ordered, so the scan stops at the first young job.
func (m *Manager) Purge() int {
	cutoff := m.now().Add(-m.retention)

	var expired []*job
	m.mu.Lock()
	m.jobs.Scan(func(id string, j *job) bool {
		if !j.info.CreatedAt.Before(cutoff) {
			return false
		}
		select {
		case <-j.done:
			expired = append(expired, j)
		default:
		}
		return true
	})
	for _, j := range expired {
		m.jobs.Delete(j.info.ID)
	}
	m.mu.Unlock()

	removed := 0
	for _, j := range expired {
		if j.path == "" {
			continue
		}
		if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Failed to remove archive %s: %v", j.path, err)
			continue
		}
		removed++
	}
	removed += m.purgeOrphans(cutoff)

	if len(expired) > 0 || removed > 0 {
		logging.Info("Purged %d archive job(s), removed %d file(s)", len(expired), removed)
	}
	return removed
}

// purgeOrphans removes old files in the archive directory that no job
// refers to, such as archives left from a previous run.
func (m *Manager) purgeOrphans(cutoff time.Time) int {
	entries, err := filesystem.ReadDirWithRetry(m.dir, filesystem.DefaultRetryConfig())
	if err != nil {
		logging.Warn("Failed to read archive directory: %v", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := strings.TrimSuffix(strings.TrimSuffix(entry.Name(), tmpExt), zipExt)
		m.mu.Lock()
		_, known := m.jobs.Get(id)
		m.mu.Unlock()
		if known {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked jobs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs.Len()
}
