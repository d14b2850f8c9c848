package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"smart-gallery/internal/mediatypes"
	"smart-gallery/internal/metrics"
)

// maxParams keeps IN (...) lists below SQLite's bound-parameter limit.
const maxParams = 500

const entryColumns = `id, path, folder_key, name, mtime, type, duration, dimensions,
	has_workflow, is_favorite, size, last_scanned, models, loras, input_files,
	media_created_at, thumb_hash, thumb_format`

const upsertEntrySQL = `
INSERT INTO files (id, path, folder_key, name, mtime, type, duration, dimensions,
	has_workflow, size, last_scanned, models, loras, input_files, media_created_at,
	thumb_hash, thumb_format)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	path = excluded.path,
	folder_key = excluded.folder_key,
	name = excluded.name,
	mtime = excluded.mtime,
	type = excluded.type,
	duration = excluded.duration,
	dimensions = excluded.dimensions,
	has_workflow = excluded.has_workflow,
	size = excluded.size,
	last_scanned = MAX(files.last_scanned, excluded.last_scanned),
	models = excluded.models,
	loras = excluded.loras,
	input_files = excluded.input_files,
	media_created_at = excluded.media_created_at,
	thumb_hash = excluded.thumb_hash,
	thumb_format = excluded.thumb_format
`

// UpsertBatch applies entries and deletions in one transaction. If the
// transaction fails it is retried once; a second failure is returned and
// nothing from the batch is visible. is_favorite is never overwritten.
func (d *Database) UpsertBatch(ctx context.Context, entries []Entry, deletions []string) error {
	if len(entries) == 0 && len(deletions) == 0 {
		return nil
	}
	if len(entries) > d.batchSize {
		return fmt.Errorf("batch of %d entries exceeds limit %d", len(entries), d.batchSize)
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_batch", start, err) }()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	err = d.retryOnce(ctx, fmt.Sprintf("batch of %d entries", len(entries)), func() error {
		return d.applyBatch(ctx, entries, deletions)
	})
	return err
}

func (d *Database) applyBatch(ctx context.Context, entries []Entry, deletions []string) (err error) {
	tx, start, err := d.beginBatch(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { err = d.endBatch(tx, start, err) }()

	if len(entries) > 0 {
		stmt, err := tx.PrepareContext(ctx, upsertEntrySQL)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for i := range entries {
			args, err := entryArgs(&entries[i])
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("upsert %s: %w", entries[i].Path, err)
			}
		}
		metrics.DBRowsAffected.WithLabelValues("upsert").Observe(float64(len(entries)))
	}

	if len(deletions) > 0 {
		n, err := deleteIDs(ctx, tx, deletions)
		if err != nil {
			return err
		}
		metrics.DBRowsAffected.WithLabelValues("delete").Observe(float64(n))
	}

	return nil
}

func entryArgs(e *Entry) ([]any, error) {
	models, err := marshalList(e.Models)
	if err != nil {
		return nil, err
	}
	loras, err := marshalList(e.Loras)
	if err != nil {
		return nil, err
	}
	inputs, err := marshalList(e.InputFiles)
	if err != nil {
		return nil, err
	}

	var created sql.NullInt64
	if e.MediaCreatedAt != nil {
		created = sql.NullInt64{Int64: *e.MediaCreatedAt, Valid: true}
	}

	return []any{
		e.ID, e.Path, e.FolderKey, e.Name, e.ModTime, string(e.Type), e.Duration, e.Dimensions,
		e.HasWorkflow, e.Size, e.LastScanned, models, loras, inputs, created,
		e.ThumbHash, e.ThumbFormat,
	}, nil
}

func marshalList(list []string) (string, error) {
	if len(list) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encoding list: %w", err)
	}
	return string(data), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                     Entry
		fileType              string
		models, loras, inputs string
		created               sql.NullInt64
	)

	err := row.Scan(
		&e.ID, &e.Path, &e.FolderKey, &e.Name, &e.ModTime, &fileType, &e.Duration, &e.Dimensions,
		&e.HasWorkflow, &e.IsFavorite, &e.Size, &e.LastScanned, &models, &loras, &inputs,
		&created, &e.ThumbHash, &e.ThumbFormat,
	)
	if err != nil {
		return e, err
	}

	e.Type = mediatypes.FileType(fileType)
	if created.Valid {
		v := created.Int64
		e.MediaCreatedAt = &v
	}
	// Malformed lists are treated as empty rather than failing the read.
	_ = json.Unmarshal([]byte(models), &e.Models)
	_ = json.Unmarshal([]byte(loras), &e.Loras)
	_ = json.Unmarshal([]byte(inputs), &e.InputFiles)
	return e, nil
}

// Lookup returns the entry for an absolute path, or ErrNotFound.
func (d *Database) Lookup(ctx context.Context, path string) (*Entry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("lookup", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	e, err := scanEntry(d.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM files WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Get returns the entry with the given id, or ErrNotFound.
func (d *Database) Get(ctx context.Context, id string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	e, err := scanEntry(d.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM files WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetByIDs returns the entries for ids that exist. Unknown ids are skipped.
func (d *Database) GetByIDs(ctx context.Context, ids []string) ([]Entry, error) {
	var out []Entry
	for _, chunk := range chunkIDs(ids) {
		rows, err := d.db.QueryContext(ctx,
			"SELECT "+entryColumns+" FROM files WHERE id IN ("+placeholders(len(chunk))+")",
			toArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListFolder returns one page of a folder's entries. The ordering is fully
// determined by opts and the stored rows; ties are broken by id.
func (d *Database) ListFolder(ctx context.Context, folderKey string, opts ListOptions) (*Listing, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_folder", start, err) }()

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}

	sortColumn := "name COLLATE NOCASE"
	switch opts.Sort {
	case mediatypes.SortByName, "":
	case mediatypes.SortByModTime:
		sortColumn = "mtime"
	default:
		err = fmt.Errorf("unsupported sort field %q", opts.Sort)
		return nil, err
	}

	sortDir := "ASC"
	switch opts.Order {
	case mediatypes.SortAsc, "":
	case mediatypes.SortDesc:
		sortDir = "DESC"
	default:
		err = fmt.Errorf("unsupported sort order %q", opts.Order)
		return nil, err
	}

	where := "folder_key = ?"
	args := []any{folderKey}
	if opts.StaleBefore != nil {
		where += " AND last_scanned < ?"
		args = append(args, opts.StaleBefore.Unix())
	}
	if opts.Type != "" {
		where += " AND type = ?"
		args = append(args, string(opts.Type))
	}
	if opts.FavoritesOnly {
		where += " AND is_favorite = 1"
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var total int
	if err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count query failed: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM files WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		entryColumns, where, sortColumn, sortDir, sortDir)
	pageArgs := append(append([]any{}, args...), opts.PageSize, (opts.Page-1)*opts.PageSize)

	rows, err := d.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("list query failed: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0, opts.PageSize)
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		items = append(items, e)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(total) / float64(opts.PageSize)))
	if totalPages < 1 {
		totalPages = 1
	}

	return &Listing{
		FolderKey:  folderKey,
		Items:      items,
		TotalItems: total,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalPages: totalPages,
	}, nil
}

// FolderState returns path -> snapshot for every entry in a folder.
func (d *Database) FolderState(ctx context.Context, folderKey string) (map[string]Snapshot, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("folder_state", start, err) }()

	rows, err := d.db.QueryContext(ctx,
		"SELECT id, path, mtime, last_scanned FROM files WHERE folder_key = ?", folderKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]Snapshot)
	for rows.Next() {
		var s Snapshot
		var path string
		if err = rows.Scan(&s.ID, &path, &s.ModTime, &s.LastScanned); err != nil {
			return nil, err
		}
		state[path] = s
	}
	err = rows.Err()
	return state, err
}

// FolderKeys returns the distinct folder keys present in the catalog.
func (d *Database) FolderKeys(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT DISTINCT folder_key FROM files ORDER BY folder_key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// MarkScanned raises last_scanned to ts for the given ids. Entries already
// scanned later than ts keep their value. A failed write is retried once.
func (d *Database) MarkScanned(ctx context.Context, ids []string, ts time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("mark_scanned", start, err) }()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	err = d.retryOnce(ctx, "scan time refresh", func() error {
		tx, txStart, err := d.beginBatch(ctx)
		if err != nil {
			return err
		}
		var execErr error
		for _, chunk := range chunkIDs(ids) {
			args := append([]any{ts.Unix()}, toArgs(chunk)...)
			if _, execErr = tx.ExecContext(ctx,
				"UPDATE files SET last_scanned = MAX(last_scanned, ?) WHERE id IN ("+placeholders(len(chunk))+")",
				args...); execErr != nil {
				break
			}
		}
		return d.endBatch(tx, txStart, execErr)
	})
	return err
}

// DeleteByIDs removes entries and returns how many rows were deleted. A
// failed write is retried once.
func (d *Database) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("delete_ids", start, err) }()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	var n int64
	err = d.retryOnce(ctx, "delete", func() error {
		tx, txStart, err := d.beginBatch(ctx)
		if err != nil {
			return err
		}
		var execErr error
		n, execErr = deleteIDs(ctx, tx, ids)
		return d.endBatch(tx, txStart, execErr)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteFolders removes every entry whose folder key is in keys. It is used
// to reconcile folders that no longer exist on disk.
func (d *Database) DeleteFolders(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, txStart, err := d.beginBatch(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	var execErr error
	for _, chunk := range chunkIDs(keys) {
		var res sql.Result
		res, execErr = tx.ExecContext(ctx,
			"DELETE FROM files WHERE folder_key IN ("+placeholders(len(chunk))+")", toArgs(chunk)...)
		if execErr != nil {
			break
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := d.endBatch(tx, txStart, execErr); err != nil {
		return 0, err
	}
	return total, nil
}

// Relocate moves the entry oldID to a new path. The entry keeps its
// attributes and favorite flag; id, path, folder and name change. Any stale
// row already holding the destination path is replaced.
func (d *Database) Relocate(ctx context.Context, oldID, newID, newPath, folderKey, name string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("relocate", start, err) }()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, txStart, err := d.beginBatch(ctx)
	if err != nil {
		return err
	}

	execErr := func() error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE (id = ? OR path = ?) AND id <> ?", newID, newPath, oldID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE files SET id = ?, path = ?, folder_key = ?, name = ? WHERE id = ?",
			newID, newPath, folderKey, name, oldID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	}()

	err = d.endBatch(tx, txStart, execErr)
	return err
}

// ThumbHashes returns every preview cache key referenced by the catalog.
func (d *Database) ThumbHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT thumb_hash FROM files WHERE thumb_hash <> ''")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = struct{}{}
	}
	return hashes, rows.Err()
}

// Stats returns catalog counts.
func (d *Database) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	stats := Stats{ByType: make(map[string]int)}

	rows, err := d.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM files GROUP BY type")
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByType[t] = n
		stats.Total += n
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return stats, err
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(is_favorite), 0),
			COALESCE(SUM(has_workflow), 0),
			COUNT(DISTINCT folder_key)
		FROM files`).Scan(&stats.Favorites, &stats.WithWorkflow, &stats.Folders)
	return stats, err
}

func deleteIDs(ctx context.Context, tx *sql.Tx, ids []string) (int64, error) {
	var total int64
	for _, chunk := range chunkIDs(ids) {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM files WHERE id IN ("+placeholders(len(chunk))+")", toArgs(chunk)...)
		if err != nil {
			return total, fmt.Errorf("delete entries: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func chunkIDs(ids []string) [][]string {
	var chunks [][]string
	for len(ids) > 0 {
		n := min(len(ids), maxParams)
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// CollectStats feeds the catalog gauges of the metrics collector.
func (d *Database) CollectStats(ctx context.Context) (metrics.Stats, error) {
	stats, err := d.Stats(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}
	return metrics.Stats{
		ByType:       stats.ByType,
		Favorites:    stats.Favorites,
		WithWorkflow: stats.WithWorkflow,
	}, nil
}
