package fileops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"smart-gallery/internal/database"
	"smart-gallery/internal/filesystem"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
)

var (
	// ErrNoIDs is returned when a batch operation names no files.
	ErrNoIDs = errors.New("no file ids given")
	// ErrInvalidName is returned by Rename for empty names or names with
	// path separators or reserved characters.
	ErrInvalidName = errors.New("invalid file name")
	// ErrNameTaken is returned by Rename when the target already exists.
	ErrNameTaken = errors.New("a file with that name already exists")
)

const maxNameLength = 250

// Failure describes one id a batch operation could not complete.
type Failure struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// Moved records where a moved file ended up.
type Moved struct {
	ID    string `json:"id"`
	NewID string `json:"newId"`
	Name  string `json:"name"`
}

// Report is the outcome of a batch operation.
type Report struct {
	Requested int       `json:"requested"`
	Deleted   int       `json:"deleted,omitempty"`
	Moved     []Moved   `json:"moved,omitempty"`
	Renamed   int       `json:"renamed,omitempty"`
	Failed    []Failure `json:"failed"`
}

// HasFailures reports whether any id failed.
func (r *Report) HasFailures() bool {
	return len(r.Failed) > 0
}

func (r *Report) fail(id, name, reason string) {
	r.Failed = append(r.Failed, Failure{ID: id, Name: name, Reason: reason})
}

// Manager applies user-initiated changes to files on disk and keeps the
// catalog consistent with them.
type Manager struct {
	db       *database.Database
	baseDir  string
	trashDir string
	now      func() time.Time
}

// New creates a Manager. An empty trashDir deletes files permanently.
func New(db *database.Database, baseDir, trashDir string) *Manager {
	return &Manager{
		db:       db,
		baseDir:  baseDir,
		trashDir: trashDir,
		now:      time.Now,
	}
}

// TrashDir returns the configured trash folder, or "".
func (m *Manager) TrashDir() string {
	return m.trashDir
}

// lookup resolves ids to entries in request order, reporting unknown ids
// as failures.
func (m *Manager) lookup(ctx context.Context, ids []string, report *Report) ([]database.Entry, error) {
	unique := dedupe(ids)
	report.Requested = len(unique)
	if len(unique) == 0 {
		return nil, ErrNoIDs
	}

	entries, err := m.db.GetByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}

	byID := make(map[string]database.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	ordered := make([]database.Entry, 0, len(entries))
	for _, id := range unique {
		e, ok := byID[id]
		if !ok {
			report.fail(id, "", "not found in catalog")
			continue
		}
		ordered = append(ordered, e)
	}
	return ordered, nil
}

// DeleteByIDs removes the files from disk, or moves them into the trash
// folder, and then drops them from the catalog. A file already missing on
// disk still has its entry removed.
func (m *Manager) DeleteByIDs(ctx context.Context, ids []string) (Report, error) {
	var report Report
	entries, err := m.lookup(ctx, ids, &report)
	if err != nil {
		return report, err
	}

	now := m.now()
	removed := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			report.fail(e.ID, e.Name, err.Error())
			continue
		}
		err := filesystem.RemoveFile(e.Path, m.trashDir, now)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Error("Could not delete %s: %v", e.Path, err)
			report.fail(e.ID, e.Name, err.Error())
			continue
		}
		removed = append(removed, e.ID)
	}

	if len(removed) > 0 {
		if _, err := m.db.DeleteByIDs(context.WithoutCancel(ctx), removed); err != nil {
			return report, fmt.Errorf("removing catalog entries: %w", err)
		}
	}
	report.Deleted = len(removed)

	action := "Deleted"
	if m.trashDir != "" {
		action = "Moved to trash"
	}
	logging.Info("%s %d file(s), %d failed", action, report.Deleted, len(report.Failed))
	return report, nil
}

// MoveByIDs moves the files into the folder destKey. Name conflicts are
// resolved with a "(n)" suffix. An entry whose source no longer exists is
// removed from the catalog and reported as failed.
func (m *Manager) MoveByIDs(ctx context.Context, ids []string, destKey string) (Report, error) {
	var report Report

	destDir, err := folders.Dir(m.baseDir, destKey)
	if err != nil {
		return report, err
	}
	info, err := os.Stat(destDir)
	if err != nil || !info.IsDir() {
		return report, fmt.Errorf("destination %q: %w", destKey, fs.ErrNotExist)
	}

	entries, err := m.lookup(ctx, ids, &report)
	if err != nil {
		return report, err
	}

	var stale []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			report.fail(e.ID, e.Name, err.Error())
			continue
		}
		if _, err := os.Lstat(e.Path); errors.Is(err, fs.ErrNotExist) {
			report.fail(e.ID, e.Name, "not found on disk")
			stale = append(stale, e.ID)
			continue
		}
		if filepath.Dir(e.Path) == destDir {
			report.fail(e.ID, e.Name, "already in destination folder")
			continue
		}

		dst := filesystem.UniquePath(destDir, e.Name)
		if err := filesystem.MoveFile(e.Path, dst); err != nil {
			logging.Error("Failed to move %s: %v", e.Path, err)
			report.fail(e.ID, e.Name, err.Error())
			continue
		}

		name := filepath.Base(dst)
		newID := folders.FileID(dst)
		if err := m.db.Relocate(context.WithoutCancel(ctx), e.ID, newID, dst, destKey, name); err != nil {
			// The file has moved; the next sync of both folders repairs the catalog.
			logging.Error("Moved %s but could not update catalog: %v", e.Path, err)
			report.fail(e.ID, e.Name, "catalog update failed: "+err.Error())
			continue
		}
		if name != e.Name {
			report.Renamed++
		}
		report.Moved = append(report.Moved, Moved{ID: e.ID, NewID: newID, Name: name})
	}

	if len(stale) > 0 {
		if _, err := m.db.DeleteByIDs(context.WithoutCancel(ctx), stale); err != nil {
			logging.Warn("Failed to remove %d stale entries: %v", len(stale), err)
		}
	}

	logging.Info("Moved %d file(s) to %s (%d renamed, %d failed)",
		len(report.Moved), destKey, report.Renamed, len(report.Failed))
	return report, nil
}

// SetFavorite sets the favorite flag on every listed entry and returns how
// many entries were updated.
func (m *Manager) SetFavorite(ctx context.Context, ids []string, favorite bool) (int64, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return 0, ErrNoIDs
	}
	return m.db.SetFavorite(ctx, unique, favorite)
}

// ToggleFavorite flips the favorite flag of one entry.
func (m *Manager) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	return m.db.ToggleFavorite(ctx, id)
}

// Rename gives one file a new name in its folder. When newName has no
// extension the old one is kept. It returns the updated entry.
func (m *Manager) Rename(ctx context.Context, id, newName string) (*database.Entry, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" || len(newName) > maxNameLength || strings.ContainsAny(newName, `\/:"*?<>|`) ||
		folders.IsHidden(newName) {
		return nil, ErrInvalidName
	}

	e, err := m.db.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(newName) == "" {
		newName += filepath.Ext(e.Name)
	}
	if newName == e.Name {
		return nil, fmt.Errorf("%w: name unchanged", ErrInvalidName)
	}

	dst := filepath.Join(filepath.Dir(e.Path), newName)
	if _, err := os.Lstat(dst); err == nil {
		return nil, ErrNameTaken
	}
	if err := os.Rename(e.Path, dst); err != nil {
		return nil, err
	}

	newID := folders.FileID(dst)
	if err := m.db.Relocate(context.WithoutCancel(ctx), e.ID, newID, dst, e.FolderKey, newName); err != nil {
		return nil, fmt.Errorf("renamed on disk but catalog update failed: %w", err)
	}
	e.ID, e.Path, e.Name = newID, dst, newName
	return e, nil
}

func dedupe(ids []string) []string {
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || !seen.Add(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
