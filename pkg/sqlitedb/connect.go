package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// Connect opens the single-file store with retry logic for reliable startup.
// Parent directories are created if needed and the connection is configured
// for durability and moderate write concurrency: write-ahead logging, a busy
// timeout instead of immediate lock errors, and foreign-key enforcement.
//
// The DSN also sets _txlock=immediate so that every transaction started via
// BeginTx takes the write lock at BEGIN. This is what makes the queue's
// select-then-update claim operation race-free across processes.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Join(ErrFailedToOpenStore, err)
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	// Linear backoff between attempts: attempt 1 waits RetryInterval,
	// attempt 2 waits 2x, and so on. Opening rarely fails for SQLite, but
	// the ping can lose a race with another process holding the lock during
	// its own schema migration.
	var lastErr error
	for i := 0; i < attempts; i++ {
		db, err := sql.Open("sqlite", dsn(path, cfg.BusyTimeout))
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}

		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnLifetime)

		// Verify with an actual ping to catch permission and disk issues up front.
		if err := db.PingContext(ctx); err != nil {
			lastErr = err
			_ = db.Close()
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}

		return db, nil
	}

	return nil, errors.Join(ErrFailedToOpenStore, lastErr)
}

// dsn builds the driver connection string with the pragmas required by the
// queue. Pragmas are applied on every new connection in the pool.
func dsn(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")

	return "file:" + path + "?" + q.Encode()
}
