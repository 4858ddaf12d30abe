// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmynk/splitledger/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// Options tunes transaction handling.
type Options struct {
	// MaxAttempts bounds how often a write transaction is run when the database is busy.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts; attempt n waits n times this.
	RetryBackoff time.Duration
	// BusyTimeout is how long SQLite itself waits for a lock before reporting busy.
	BusyTimeout time.Duration
	// OnRetry is called before each retried attempt.
	OnRetry func(attempt int)
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  5,
		RetryBackoff: 20 * time.Millisecond,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements storage.Store using SQLite.
//
// Writes go through a single connection whose transactions start with
// BEGIN IMMEDIATE, so a transaction holds the write lock from its first read
// and every read-validate-write sequence is serialized. Reads use a separate
// pool and see WAL snapshots without blocking the writer.
type SQLiteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB
	opts    Options
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string, opts Options) (*SQLiteStore, error) {
	opts = withDefaults(opts)

	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dsn(dbPath, opts, "immediate"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), writeDB); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	readDB, err := sql.Open("sqlite", dsn(dbPath, opts, "deferred"))
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLiteStore{writeDB: writeDB, readDB: readDB, opts: opts}, nil
}

// NewWithDB wraps an already opened database for both reads and writes. The
// schema is not migrated.
func NewWithDB(db *sql.DB, opts Options) *SQLiteStore {
	return &SQLiteStore{writeDB: db, readDB: db, opts: withDefaults(opts)}
}

// Migrate opens the database at dbPath, applies the schema and closes it again.
func Migrate(dbPath string) error {
	store, err := New(dbPath, DefaultOptions())
	if err != nil {
		return err
	}
	return store.Close()
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = def.BusyTimeout
	}
	return opts
}

// dsn enables foreign keys, WAL and the busy timeout on every pooled
// connection, not just the first one.
func dsn(path string, opts Options, txlock string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", txlock)
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database connections.
func (s *SQLiteStore) Close() error {
	if s.readDB != s.writeDB {
		if err := s.readDB.Close(); err != nil {
			s.writeDB.Close()
			return err
		}
	}
	return s.writeDB.Close()
}

// InTx runs fn in a write transaction, retrying the whole function while the
// database reports it is busy.
func (s *SQLiteStore) InTx(ctx context.Context, fn storage.TxFunc) error {
	var err error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err = runTx(ctx, s.writeDB, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == s.opts.MaxAttempts {
			break
		}

		slog.Warn("Database busy, retrying transaction", "attempt", attempt, "error", err)
		if s.opts.OnRetry != nil {
			s.opts.OnRetry(attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.opts.RetryBackoff):
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", s.opts.MaxAttempts, err)
}

// ReadTx runs fn in a deferred transaction on the read pool.
func (s *SQLiteStore) ReadTx(ctx context.Context, fn storage.TxFunc) error {
	return runTx(ctx, s.readDB, fn)
}

func runTx(ctx context.Context, db *sql.DB, fn storage.TxFunc) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isBusy reports whether err is SQLite lock contention.
func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Tx implements storage.Tx on top of a database transaction.
type Tx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*Tx)(nil)

// checkGuarded turns an UPDATE or DELETE guarded by "version = ?" into
// ErrVersionConflict when it touched nothing.
func checkGuarded(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrVersionConflict)
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s not found: %s: %w", what, id, storage.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
