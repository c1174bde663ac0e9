package sqlitedb

import (
	"context"
	"database/sql"
)

// InTx runs fn inside a single immediate-mode transaction: the write lock is
// acquired at BEGIN, fn is invoked with the transactional handle, the
// transaction commits when fn returns nil and rolls back on error or panic.
// The underlying lock is released on every exit path.
//
// Errors returned by fn are passed through untouched so sentinel errors from
// higher layers survive; begin/commit failures are classified into ErrBusy or
// ErrStorage.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ClassifyError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return ClassifyError(err)
	}
	return nil
}
