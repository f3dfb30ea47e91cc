// Package storage implements the embedded SQL substrate shared by every
// subsystem database (memory, governance, learning, analytics). One
// Engine wraps one SQLite file, WAL-journaled, with a schema_version table
// tracking applied migrations and a Tx helper that retries on SQLITE_BUSY
// with jittered backoff.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/ai-framework/daemon/internal/errkind"

	_ "modernc.org/sqlite"
)

// Migration is one named, idempotent schema step. Migrations run in slice
// order; each is recorded in schema_version so it never re-applies.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// Engine is a handle onto one subsystem's SQLite file. It holds a single
// connection, so reads and writes are serialized: a reader waits while a
// write transaction holds the connection.
type Engine struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path, applies the given migrations
// in order (skipping those already recorded in schema_version), and returns
// a ready Engine. An in-memory database ("") is used for tests.
func Open(path string, migrations []Migration) (*Engine, error) {
	dsn := path
	if path == "" || path == ":memory:" {
		dsn = ":memory:?_pragma=busy_timeout(5000)"
	} else {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "open %s", path)
	}
	db.SetMaxOpenConns(1) // one connection shared by readers and writers

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		name TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		db.Close()
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "create schema_version")
	}

	if err := applyMigrations(db, migrations); err != nil {
		db.Close()
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "apply migrations")
	}

	return &Engine{db: db, path: path}, nil
}

func applyMigrations(db *sql.DB, migrations []Migration) error {
	for _, m := range migrations {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version WHERE name = ?`, m.Name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if count > 0 {
			continue
		}
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (name) VALUES (?)`, m.Name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// DB exposes the underlying *sql.DB for subsystem-specific query helpers.
func (e *Engine) DB() *sql.DB { return e.db }

// Close closes the underlying database.
func (e *Engine) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

const (
	maxTxRetries  = 5
	txRetryBase   = 10 * time.Millisecond
	txRetryMax    = 500 * time.Millisecond
)

// Tx runs fn inside a transaction, retrying with jittered exponential
// backoff when the driver reports the database is busy/locked. Readers are
// never blocked by this retry loop — only writers contend on SQLITE_BUSY.
func (e *Engine) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errkind.Wrap(errkind.Timeout, ctx.Err(), "tx cancelled after %d attempts", attempt)
			case <-time.After(backoffDelay(attempt)):
			}
		}

		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return errkind.Wrap(errkind.StorageUnavailable, err, "begin tx")
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return errkind.Wrap(errkind.StorageUnavailable, err, "commit tx")
		}
		return nil
	}
	return errkind.Wrap(errkind.StorageUnavailable, lastErr, "tx failed after %d retries", maxTxRetries)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// backoffDelay is exponential with ~10% jitter, capped at txRetryMax.
func backoffDelay(attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	delay := float64(txRetryBase) * multiplier
	if delay > float64(txRetryMax) || math.IsInf(delay, 1) {
		delay = float64(txRetryMax)
	}
	jitter := 1.0 + rand.Float64()*0.1
	return time.Duration(delay * jitter)
}

// ErrUnavailable is returned by callers that want to check for a storage
// outage without importing errkind directly.
var ErrUnavailable = errors.New("storage unavailable")
