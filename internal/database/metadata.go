package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const lastFullSyncKey = "last_full_sync"

// GetMetadata retrieves a metadata value by key. Missing keys return ErrNotFound.
func (d *Database) GetMetadata(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value sql.NullString
	err := d.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

// SetMetadata sets a metadata key-value pair.
func (d *Database) SetMetadata(ctx context.Context, key, value string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetLastFullSync returns when every folder was last synchronized, or the
// zero time if that never happened.
func (d *Database) GetLastFullSync(ctx context.Context) (time.Time, error) {
	value, err := d.GetMetadata(ctx, lastFullSyncKey)
	if errors.Is(err, ErrNotFound) || (err == nil && value == "") {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

// SetLastFullSync records the completion time of a sync over every folder.
func (d *Database) SetLastFullSync(ctx context.Context, t time.Time) error {
	return d.SetMetadata(ctx, lastFullSyncKey, t.UTC().Format(time.RFC3339))
}
