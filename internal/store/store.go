// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	// Drivers for the alternative backends accepted by OpenDSN.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	// DBFileName is the name of the store file inside a configuration root.
	DBFileName = "manager.db"
	// LockFileName is the advisory lock guarding a configuration root.
	LockFileName = DBFileName + ".lock"
)

// sqlOpenFunc allows tests to override database opening behavior.
var sqlOpenFunc = sql.Open

// Store is an open handle on a configuration store. All methods are safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	bun    *bun.DB
	dbType string
	root   string
	lock   *flock.Flock
	closed bool
}

// Open opens (creating when absent) the SQLite store of the configuration
// root. Opening an existing root never alters its content.
func Open(ctx context.Context, root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty location", ErrStoreUnavailable)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := checkWritable(root); err != nil {
		return nil, err
	}

	fl, err := acquireLock(ctx, filepath.Join(root, LockFileName))
	if err != nil {
		return nil, err
	}

	dsn := "file:" + filepath.Join(root, DBFileName) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	s, err := openDSN(ctx, "sqlite", dsn)
	if err != nil {
		_ = releaseLock(fl)
		return nil, err
	}
	s.root = root
	s.lock = fl
	return s, nil
}

// OpenDSN opens a store on an arbitrary backend ("sqlite", "postgres" or
// "mysql"). No process lock is taken; callers sharing a server database are
// expected to coordinate through the configuration root lock instead.
func OpenDSN(ctx context.Context, dbType, dsn string) (*Store, error) {
	return openDSN(ctx, dbType, dsn)
}

func openDSN(ctx context.Context, dbType, dsn string) (*Store, error) {
	driverName := dbType
	// The pgx stdlib registers driver name "pgx"; map "postgres" to that driver.
	if dbType == "postgres" {
		driverName = "pgx"
	}
	start := time.Now()
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if dbType == "sqlite" {
		// SQLite has a single writer anyway; one connection keeps in-memory
		// databases consistent and makes the write ordering explicit.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, mapOpenError(err)
	}
	if dbType == "sqlite" {
		if err := quickCheck(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	if err := ensureSchema(ctx, sqlDB, dbType); err != nil {
		_ = sqlDB.Close()
		return nil, mapOpenError(err)
	}
	dbLogf("opened %s store in %s", dbType, time.Since(start))

	return &Store{bun: createBunDB(sqlDB, dbType), dbType: dbType}, nil
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and dbType.
func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

func quickCheck(ctx context.Context, sqlDB *sql.DB) error {
	var res string
	if err := sqlDB.QueryRowContext(ctx, "PRAGMA quick_check;").Scan(&res); err != nil {
		return mapOpenError(err)
	}
	if res != "ok" {
		return fmt.Errorf("%w: quick_check: %s", ErrStoreCorrupted, res)
	}
	return nil
}

// checkWritable probes root by creating and removing a temporary file.
func checkWritable(root string) error {
	f, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s is not writable: %w", ErrStoreUnavailable, root, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// Root returns the configuration root of a store opened with Open, or the
// empty string for OpenDSN stores.
func (s *Store) Root() string { return s.root }

// Path returns the database file of a store opened with Open.
func (s *Store) Path() string {
	if s.root == "" {
		return ""
	}
	return filepath.Join(s.root, DBFileName)
}

// Get returns the value stored under key. A missing key reports ok=false and
// a nil error.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.GetBytes(ctx, key)
	return string(v), ok, err
}

// GetBytes is Get for binary values.
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	rec, err := s.GetRecord(ctx, key)
	if err != nil || rec == nil {
		return nil, false, err
	}
	return rec.Value, true, nil
}

// GetRecord returns the full record for key, or nil when absent.
func (s *Store) GetRecord(ctx context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return getRecord(ctx, s.bun, key)
}

// Keys lists the keys starting with prefix in ascending order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return listKeys(ctx, s.bun, prefix)
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.SetBytes(ctx, key, []byte(value))
}

// SetBytes is Set for binary values.
func (s *Store) SetBytes(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return upsertRecord(ctx, s.bun, s.dbType, key, value)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return deleteRecord(ctx, s.bun, key)
}

// Dispose releases the database and the process lock. It is safe to call
// more than once; later operations fail with ErrStoreClosed.
func (s *Store) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.bun.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if s.lock != nil {
		if err := releaseLock(s.lock); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
	}
	dbLogf("disposed store %s", s.root)
	return errors.Join(errs...)
}

// Closed reports whether Dispose has been called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
