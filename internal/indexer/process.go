package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"

	"smart-gallery/internal/database"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/media"
)

// job is the unit of work handed to a worker. Workers share nothing else.
type job struct {
	path      string
	folderKey string
	info      FileInfo
	scannedAt int64
}

// itemResult carries a worker's output back to the collector. entry is nil
// when the file could not be catalogued at all.
type itemResult struct {
	entry   *database.Entry
	failure *ItemFailure
}

// name is the file name reported in progress events.
func (r itemResult) name() string {
	if r.entry != nil {
		return r.entry.Name
	}
	if r.failure != nil {
		return filepath.Base(r.failure.Path)
	}
	return ""
}

// processItem extracts metadata and ensures a preview for one file. A
// panic is turned into a failure for that item.
func (c *Coordinator) processItem(ctx context.Context, j job) (res itemResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Panic processing %s: %v\n%s", j.path, r, debug.Stack())
			res = itemResult{failure: &ItemFailure{Path: j.path, Reason: fmt.Sprintf("panic: %v", r)}}
		}
	}()

	md, err := c.extractor.Analyze(ctx, j.path)
	if err != nil {
		return itemResult{failure: &ItemFailure{Path: j.path, Reason: err.Error()}}
	}

	entry := &database.Entry{
		ID:          folders.FileID(j.path),
		Path:        j.path,
		FolderKey:   j.folderKey,
		Name:        filepath.Base(j.path),
		ModTime:     j.info.ModTime,
		Type:        md.Type,
		Duration:    md.Info.DurationString(),
		Dimensions:  md.Info.Dimensions,
		HasWorkflow: md.HasWorkflow,
		Size:        j.info.Size,
		LastScanned: j.scannedAt,
		Models:      md.Models,
		Loras:       md.Loras,
		InputFiles:  md.InputFiles,
	}
	if md.Info.CreatedAt != nil {
		ts := md.Info.CreatedAt.Unix()
		entry.MediaCreatedAt = &ts
	}

	if !md.Type.Capabilities().Thumbnail || c.thumbs == nil {
		return itemResult{entry: entry}
	}

	hash := folders.ThumbHash(j.path, j.info.ModTime)
	_, format, err := c.thumbs.Ensure(ctx, j.path, md.Type, hash)
	if err != nil {
		reason := err.Error()
		var te *media.ThumbnailError
		if errors.As(err, &te) && te.Reason != nil {
			reason = te.Reason.Error()
		}
		logging.Debug("Preview failed for %s: %v", j.path, err)
		return itemResult{entry: entry, failure: &ItemFailure{Path: j.path, Reason: "preview: " + reason}}
	}
	entry.ThumbHash = hash
	entry.ThumbFormat = format

	return itemResult{entry: entry}
}
