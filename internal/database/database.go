package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"smart-gallery/internal/logging"
	"smart-gallery/internal/metrics"
)

// SchemaVersion is the on-disk layout this build expects. A catalog stamped
// with any other version is dropped and recreated.
const SchemaVersion = 28

// DefaultBatchSize bounds the number of entries written per transaction.
const DefaultBatchSize = 500

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Options tunes a Database.
type Options struct {
	// BatchSize caps entries per UpsertBatch call. Zero means DefaultBatchSize.
	BatchSize int
	// RetryDelay is the pause before a failed write is retried.
	RetryDelay time.Duration
	// BeforeCommit, when set, runs inside every write transaction just
	// before commit; an error rolls the transaction back. Used to inject
	// write failures.
	BeforeCommit func() error
}

// Database is the catalog store. All mutations go through writeMu so there
// is exactly one writer; reads use the connection pool concurrently.
type Database struct {
	db      *sql.DB
	dbPath  string
	writeMu sync.Mutex

	batchSize  int
	retryDelay time.Duration
	rebuilt    bool

	beforeCommit func() error
}

// New opens the catalog at dbPath, creating it when missing. The parent
// directory must already exist and be writable.
func New(ctx context.Context, dbPath string, opts Options) (*Database, error) {
	logging.Info("Catalog path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Catalog permission diagnostics: %v", err)
	}

	// busy_timeout absorbs short lock contention from concurrent readers.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:           db,
		dbPath:       dbPath,
		batchSize:    opts.BatchSize,
		retryDelay:   opts.RetryDelay,
		beforeCommit: opts.BeforeCommit,
	}
	if d.batchSize <= 0 {
		d.batchSize = DefaultBatchSize
	}
	if d.retryDelay <= 0 {
		d.retryDelay = 100 * time.Millisecond
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Catalog ready at %s (schema v%d)", dbPath, SchemaVersion)
	return d, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL UNIQUE CHECK (path <> ''),
	folder_key TEXT NOT NULL,
	name TEXT NOT NULL,
	mtime INTEGER NOT NULL,
	type TEXT NOT NULL,
	duration TEXT NOT NULL DEFAULT '',
	dimensions TEXT NOT NULL DEFAULT '',
	has_workflow INTEGER NOT NULL DEFAULT 0,
	is_favorite INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	last_scanned INTEGER NOT NULL DEFAULT 0,
	models TEXT NOT NULL DEFAULT '[]',
	loras TEXT NOT NULL DEFAULT '[]',
	input_files TEXT NOT NULL DEFAULT '[]',
	media_created_at INTEGER,
	thumb_hash TEXT NOT NULL DEFAULT '',
	thumb_format TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_files_folder ON files(folder_key);
CREATE INDEX IF NOT EXISTS idx_files_folder_name ON files(folder_key, name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_files_folder_mtime ON files(folder_key, mtime);
CREATE INDEX IF NOT EXISTS idx_files_last_scanned ON files(last_scanned);
CREATE INDEX IF NOT EXISTS idx_files_favorite ON files(is_favorite) WHERE is_favorite = 1;

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT
);
`

// initialize creates the schema, or drops and recreates it when the stored
// version does not match SchemaVersion. There are no in-place migrations.
func (d *Database) initialize(ctx context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	var version int
	if err := d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	var tables int
	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('files', 'metadata')",
	).Scan(&tables); err != nil {
		return fmt.Errorf("inspecting schema: %w", err)
	}

	if version == SchemaVersion && tables == 2 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if tables > 0 {
		logging.Warn("Catalog schema version %d does not match expected %d, rebuilding", version, SchemaVersion)
		for _, stmt := range []string{"DROP TABLE IF EXISTS files", "DROP TABLE IF EXISTS metadata"} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.Join(err, tx.Rollback())
			}
		}
		d.rebuilt = true
		metrics.DBRebuildsTotal.Inc()
	}

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

// Rebuilt reports whether New dropped an existing catalog because of a
// schema version mismatch.
func (d *Database) Rebuilt() bool {
	return d.rebuilt
}

// BatchSize returns the maximum number of entries per UpsertBatch.
func (d *Database) BatchSize() int {
	return d.batchSize
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// beginBatch starts a write transaction. The caller must hold writeMu.
func (d *Database) beginBatch(ctx context.Context) (*sql.Tx, time.Time, error) {
	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	return tx, start, err
}

// endBatch commits or rolls back tx and records the transaction duration.
func (d *Database) endBatch(tx *sql.Tx, start time.Time, err error) error {
	duration := time.Since(start).Seconds()

	if err == nil && d.beforeCommit != nil {
		err = d.beforeCommit()
	}

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		return fmt.Errorf("commit failed: %w", err)
	}
	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return nil
}

// retryOnce runs a write and, if it fails, runs it once more after
// retryDelay. The caller must hold writeMu. A cancelled ctx is not retried.
func (d *Database) retryOnce(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || ctx.Err() != nil {
		return err
	}

	logging.Warn("Catalog %s failed, retrying once: %v", op, err)
	metrics.DBBatchRetries.Inc()

	select {
	case <-time.After(d.retryDelay):
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}

	if retryErr := fn(); retryErr != nil {
		return fmt.Errorf("catalog %s failed after retry: %w", op, errors.Join(err, retryErr))
	}
	return nil
}

// Vacuum optimizes the database.
func (d *Database) Vacuum(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	metrics.DBConnectionsOpen.Set(float64(d.db.Stats().OpenConnections))
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Catalog directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		logging.Debug("Catalog file %s (mode: %v, size: %d bytes)", p, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s is read-only (mode %v), writes will fail", p, info.Mode())
			if chmodErr := os.Chmod(p, 0o600); chmodErr != nil {
				logging.Error("Failed to fix permissions on %s: %v", p, chmodErr)
			} else {
				logging.Info("Fixed permissions on %s", p)
			}
		}
	}

	return nil
}
