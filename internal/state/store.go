// Package state persists enforcement state between ticks and restarts.
//
// The store provides:
// - Persistent storage via SQLite with WAL mode (modernc.org/sqlite, pure Go)
// - Typed buckets for the enforcement records (usage, overrides, addresses)
// - Single-writer discipline: every read-modify-write happens under one lock
//
// Corruption is never fatal: an unreadable database file is moved aside and
// replaced with an empty one at open time, and an undecodable row is treated
// as absent by the typed accessors. Usage history is lost, the system keeps
// running.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/logging"
)

// Common errors
var (
	ErrNotFound    = errors.New("key not found")
	ErrStoreClosed = errors.New("store is closed")
)

// Store is the persistence interface the enforcement components use.
type Store interface {
	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	List(bucket string) (map[string][]byte, error)
	ListKeys(bucket string) ([]string, error)
	DeleteBucket(bucket string) error

	// Update runs fn under the store's exclusive writer lock, inside one SQL
	// transaction. All read-modify-write cycles (accrual, resets, override
	// grants) go through here so concurrent actors (tick loop, API, block
	// page) serialize and multi-record updates commit atomically.
	Update(fn func(tx Tx) error) error

	Close() error
}

// Tx is the view handed to Update callbacks. Same operations, already locked.
type Tx interface {
	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	List(bucket string) (map[string][]byte, error)
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	clock  clock.Clock
	logger *logging.Logger
}

// Options configures the SQLite store.
type Options struct {
	Path   string      // Database file path (":memory:" for tests)
	Clock  clock.Clock // Optional time source (defaults to RealClock)
	Logger *logging.Logger
}

// Open creates or opens the state database. A database that cannot be opened
// or initialized is moved aside and recreated empty rather than failing.
func Open(opts Options) (*SQLiteStore, error) {
	s, err := open(opts)
	if err == nil {
		return s, nil
	}
	if opts.Path == ":memory:" {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Error("state database unreadable, reinitializing empty",
		"path", opts.Path, "error", err)

	// Keep the corrupt file for post-mortem instead of deleting it.
	_ = os.Rename(opts.Path, opts.Path+".corrupt")
	_ = os.Remove(opts.Path + "-wal")
	_ = os.Remove(opts.Path + "-shm")

	return open(opts)
}

func open(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.Path != ":memory:" {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" stores coherent and backs the
	// single-writer discipline at the driver level too.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &SQLiteStore{
		db:     db,
		clock:  clk,
		logger: logger.WithComponent("state"),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (bucket, key)
		);
		CREATE INDEX IF NOT EXISTS idx_entries_bucket ON entries(bucket);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- internal operations, parameterized over db/tx ---

func (s *SQLiteStore) get(q querier, bucket, key string) ([]byte, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	var value []byte
	err := q.QueryRow(
		"SELECT value FROM entries WHERE bucket = ? AND key = ?",
		bucket, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLiteStore) set(q querier, bucket, key string, value []byte) error {
	if s.closed {
		return ErrStoreClosed
	}

	_, err := q.Exec(`
		INSERT INTO entries (bucket, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, bucket, key, value, s.clock.Now())
	return err
}

func (s *SQLiteStore) delete(q querier, bucket, key string) error {
	if s.closed {
		return ErrStoreClosed
	}

	result, err := q.Exec(
		"DELETE FROM entries WHERE bucket = ? AND key = ?", bucket, key)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) list(q querier, bucket string) (map[string][]byte, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := q.Query(
		"SELECT key, value FROM entries WHERE bucket = ?", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}

// --- Store interface ---

// Get retrieves a value by bucket and key.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(s.db, bucket, key)
}

// Set stores a value.
func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(s.db, bucket, key, value)
}

// Delete removes a key.
func (s *SQLiteStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(s.db, bucket, key)
}

// List returns all key-value pairs in a bucket.
func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(s.db, bucket)
}

// ListKeys returns all keys in a bucket.
func (s *SQLiteStore) ListKeys(bucket string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(
		"SELECT key FROM entries WHERE bucket = ? ORDER BY key", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteBucket removes every entry in a bucket.
func (s *SQLiteStore) DeleteBucket(bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec("DELETE FROM entries WHERE bucket = ?", bucket)
	return err
}

// lockedTx implements Tx over an in-flight SQL transaction.
type lockedTx struct {
	s  *SQLiteStore
	tx *sql.Tx
}

func (t lockedTx) Get(bucket, key string) ([]byte, error) { return t.s.get(t.tx, bucket, key) }
func (t lockedTx) Set(bucket, key string, value []byte) error {
	return t.s.set(t.tx, bucket, key, value)
}
func (t lockedTx) Delete(bucket, key string) error { return t.s.delete(t.tx, bucket, key) }
func (t lockedTx) List(bucket string) (map[string][]byte, error) {
	return t.s.list(t.tx, bucket)
}

// Update runs fn with the writer lock held inside one SQL transaction, so a
// failed multi-record update (accrual plus aggregate plus watermark) does not
// leave the state half-written.
func (s *SQLiteStore) Update(fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	sqlTx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if err := fn(lockedTx{s, sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
