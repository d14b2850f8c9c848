package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"smart-gallery/internal/database"
	"smart-gallery/internal/filesystem"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/mediatypes"
)

// DefaultStaleAfter is the age after which a cached entry is eligible for
// reprocessing in recent mode.
const DefaultStaleAfter = time.Hour

// Mode selects which files a sync considers.
type Mode string

const (
	// ModeFull processes new and modified files and refreshes the rest.
	ModeFull Mode = "full"
	// ModeRecent only looks at entries not scanned within the staleness window.
	ModeRecent Mode = "recent"
	// ModeMissing only processes files without a catalog entry or preview.
	ModeMissing Mode = "missing"
)

// ErrUnknownFolder is returned for folder keys that match neither a
// directory on disk nor any catalog entry.
var ErrUnknownFolder = errors.New("unknown folder")

// ParseMode parses a mode name. The empty string and "all" mean full.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "all", string(ModeFull):
		return ModeFull, nil
	case string(ModeRecent):
		return ModeRecent, nil
	case string(ModeMissing):
		return ModeMissing, nil
	default:
		return "", fmt.Errorf("invalid sync mode %q", s)
	}
}

// FileInfo is one media file found in a directory listing.
type FileInfo struct {
	Path    string
	Name    string
	ModTime int64
	Size    int64
}

// Lister lists the media files directly inside one directory.
type Lister interface {
	List(ctx context.Context, dir string) ([]FileInfo, error)
}

// DirLister lists a local or NFS-mounted directory, retrying stale handles.
type DirLister struct {
	Retry filesystem.RetryConfig
}

// List implements Lister. Hidden entries, subdirectories and unknown
// extensions are skipped.
func (l DirLister) List(ctx context.Context, dir string) ([]FileInfo, error) {
	entries, err := filesystem.ReadDirWithRetry(dir, l.Retry)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || folders.IsHidden(name) || !mediatypes.IsMediaFile(mediatypes.Ext(name)) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between readdir and stat.
			logging.Debug("Skipping %s: %v", name, err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(dir, name),
			Name:    name,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
	}
	return files, nil
}

// Diff is the work list for one folder.
type Diff struct {
	FolderKey string
	// ToProcess holds paths to extract and upsert.
	ToProcess []string
	// ToDelete holds ids whose file vanished.
	ToDelete []string
	// ToRefresh holds ids of unchanged entries whose scan time is bumped.
	ToRefresh []string
	// Files maps every listed path to its stat data.
	Files map[string]FileInfo
}

// Scanner diffs a directory against its cached state.
type Scanner struct {
	db         *database.Database
	baseDir    string
	lister     Lister
	staleAfter time.Duration
	hasPreview func(path string, mtime int64) bool
	now        func() time.Time
}

// NewScanner creates a scanner. A nil lister uses DirLister with the
// default retry policy.
func NewScanner(db *database.Database, baseDir string, lister Lister, staleAfter time.Duration) *Scanner {
	if lister == nil {
		lister = DirLister{Retry: filesystem.DefaultRetryConfig()}
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Scanner{
		db:         db,
		baseDir:    baseDir,
		lister:     lister,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// SetPreviewCheck makes missing mode also reprocess cached files whose
// preview is absent.
func (s *Scanner) SetPreviewCheck(fn func(path string, mtime int64) bool) {
	s.hasPreview = fn
}

// Diff lists the folder for key and compares it with the catalog.
//
// A file is processed when it has no entry or its mtime (whole seconds) is
// newer than the cached one. In recent mode only entries last scanned
// before the staleness window are eligible; eligible unchanged entries are
// refreshed. In missing mode only uncached files, and cached files without
// a preview when a preview check is set, are processed. Entries whose file
// is gone are deleted in every mode.
func (s *Scanner) Diff(ctx context.Context, key string, mode Mode) (*Diff, error) {
	dir, err := folders.Dir(s.baseDir, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownFolder, err)
	}

	listed, err := s.lister.List(ctx, dir)
	dirGone := errors.Is(err, fs.ErrNotExist)
	if err != nil && !dirGone {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	cached, err := s.db.FolderState(ctx, key)
	if err != nil {
		return nil, err
	}
	if dirGone && len(cached) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFolder, key)
	}

	diff := &Diff{FolderKey: key, Files: make(map[string]FileInfo, len(listed))}
	onDisk := mapset.NewThreadUnsafeSetWithSize[string](len(listed))
	for _, f := range listed {
		diff.Files[f.Path] = f
		onDisk.Add(f.Path)
	}
	inCache := mapset.NewThreadUnsafeSetWithSize[string](len(cached))
	for p := range cached {
		inCache.Add(p)
	}

	for p := range inCache.Difference(onDisk).Iter() {
		diff.ToDelete = append(diff.ToDelete, cached[p].ID)
	}
	for p := range onDisk.Difference(inCache).Iter() {
		diff.ToProcess = append(diff.ToProcess, p)
	}

	cutoff := s.now().Add(-s.staleAfter).Unix()
	for p := range onDisk.Intersect(inCache).Iter() {
		snap := cached[p]
		changed := diff.Files[p].ModTime > snap.ModTime

		switch mode {
		case ModeMissing:
			if s.hasPreview != nil && !s.hasPreview(p, diff.Files[p].ModTime) {
				diff.ToProcess = append(diff.ToProcess, p)
			}
		case ModeRecent:
			if snap.LastScanned >= cutoff {
				continue
			}
			fallthrough
		default:
			if changed {
				diff.ToProcess = append(diff.ToProcess, p)
			} else {
				diff.ToRefresh = append(diff.ToRefresh, snap.ID)
			}
		}
	}

	slices.Sort(diff.ToProcess)
	slices.Sort(diff.ToDelete)
	slices.Sort(diff.ToRefresh)

	logging.Debug("Diff %s (%s): %d to process, %d to delete, %d to refresh",
		key, mode, len(diff.ToProcess), len(diff.ToDelete), len(diff.ToRefresh))
	return diff, nil
}
