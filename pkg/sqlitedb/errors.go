package sqlitedb

import (
	"errors"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrFailedToOpenStore = errors.New("failed to open sqlite store")
	ErrHealthcheckFailed = errors.New("healthcheck failed, store is not available")
	ErrBusy              = errors.New("sqlite store is busy")
	ErrStorage           = errors.New("sqlite storage failure")
	ErrSchema            = errors.New("failed to apply schema migrations")
)

// IsBusyError detects lock contention (SQLITE_BUSY/SQLITE_LOCKED) that remains
// after the busy-timeout budget is exhausted. Callers retry these with backoff;
// every other storage error is structural and must not be retried blindly.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}

	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsUniqueConstraintError detects unique constraint violations. The queue maps
// these to duplicate-enqueue results for idempotency keys.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}

	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// IsForeignKeyViolationError detects referential integrity violations, e.g.
// an audit row referencing a task that no longer exists.
func IsForeignKeyViolationError(err error) bool {
	if err == nil {
		return false
	}

	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

// ClassifyError wraps a raw driver error with the package sentinel matching
// its kind, preserving the original error for inspection. Nil stays nil.
func ClassifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsBusyError(err):
		return errors.Join(ErrBusy, err)
	default:
		return errors.Join(ErrStorage, err)
	}
}
