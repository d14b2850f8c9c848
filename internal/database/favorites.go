package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetFavorite sets the favorite flag on every listed entry and returns the
// number of rows changed.
func (d *Database) SetFavorite(ctx context.Context, ids []string, favorite bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("set_favorite", start, err) }()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, txStart, err := d.beginBatch(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	var execErr error
	for _, chunk := range chunkIDs(ids) {
		var res sql.Result
		args := append([]any{favorite}, toArgs(chunk)...)
		res, execErr = tx.ExecContext(ctx,
			"UPDATE files SET is_favorite = ? WHERE id IN ("+placeholders(len(chunk))+")", args...)
		if execErr != nil {
			break
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err = d.endBatch(tx, txStart, execErr); err != nil {
		return 0, err
	}
	return total, nil
}

// ToggleFavorite flips the favorite flag of one entry and returns the new value.
func (d *Database) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var favorite bool
	err := d.db.QueryRowContext(ctx,
		"UPDATE files SET is_favorite = 1 - is_favorite WHERE id = ? RETURNING is_favorite", id,
	).Scan(&favorite)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return favorite, err
}
