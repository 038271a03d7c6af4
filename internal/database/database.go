package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"asset-indexer/internal/database/migrations"
	"asset-indexer/internal/logging"
	"asset-indexer/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// maxInParams bounds the number of bound parameters in one IN clause.
const maxInParams = 500

// ErrNotFound is returned when a lookup by key matches no row.
var ErrNotFound = errors.New("not found")

// Database is the SQLite catalogue: files, pending activities and the audit
// trail.
type Database struct {
	db     *sql.DB
	dbPath string
	// mu serializes write transactions; SQLite allows a single writer.
	mu sync.Mutex
}

// New opens the database file at dbPath and migrates it to the latest
// schema. The parent directory must exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", dbPath)

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

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := migrations.Up(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after migration failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return &Database{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// Batch is an open write transaction started by BeginBatch.
type Batch struct {
	*sql.Tx
	start time.Time
}

// BeginBatch starts a write transaction. The caller must call EndBatch.
func (d *Database) BeginBatch(ctx context.Context) (*Batch, error) {
	d.mu.Lock()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	return &Batch{Tx: tx, start: time.Now()}, nil
}

// EndBatch commits the transaction, or rolls it back when err is non-nil.
func (d *Database) EndBatch(b *Batch, err error) error {
	defer d.mu.Unlock()
	duration := time.Since(b.start).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		if rbErr := b.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return b.Commit()
}

// withBatch runs fn in a write transaction and records it under operation.
func (d *Database) withBatch(ctx context.Context, operation string, fn func(tx *Batch) error) (err error) {
	start := time.Now()
	defer func() { recordQuery(operation, start, err) }()

	b, err := d.BeginBatch(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", operation, err)
	}
	return d.EndBatch(b, fn(b))
}

// GetStats returns catalogue sizes per storage and the pending claim count.
func (d *Database) GetStats() metrics.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	stats := metrics.Stats{OpenConnections: d.db.Stats().OpenConnections}

	rows, err := d.db.QueryContext(ctx, `
		SELECT realm, storage,
			SUM(CASE WHEN directory = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN directory = 1 THEN 1 ELSE 0 END)
		FROM files GROUP BY realm, storage ORDER BY realm, storage`)
	if err != nil {
		logging.Warn("failed to collect catalogue stats: %v", err)
		return stats
	}
	defer rows.Close()

	for rows.Next() {
		var s metrics.StorageStats
		if err := rows.Scan(&s.Realm, &s.Storage, &s.Files, &s.Directories); err != nil {
			logging.Warn("failed to scan catalogue stats: %v", err)
			return stats
		}
		stats.Storages = append(stats.Storages, s)
	}

	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_activity").Scan(&stats.PendingClaims); err != nil {
		logging.Warn("failed to count pending claims: %v", err)
	}
	return stats
}

// Vacuum optimizes the database.
func (d *Database) Vacuum(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

func observeRows(operation string, result sql.Result) {
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		metrics.DBRowsAffected.WithLabelValues(operation).Observe(float64(rows))
	}
}

func metricsRows(operation string, n int64) {
	if n > 0 {
		metrics.DBRowsAffected.WithLabelValues(operation).Observe(float64(n))
	}
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// chunks splits keys into slices of at most maxInParams.
func chunks(keys []string) [][]string {
	var out [][]string
	for len(keys) > maxInParams {
		out = append(out, keys[:maxInParams])
		keys = keys[maxInParams:]
	}
	if len(keys) > 0 {
		out = append(out, keys)
	}
	return out
}

func toArgs(keys []string) []interface{} {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

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
		logging.Debug("Database file %s (mode: %v, size: %d bytes)", p, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file %s is read-only (mode %v), writes will fail", p, info.Mode())
		}
	}
	return nil
}
