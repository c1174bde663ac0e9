package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
)

// Healthcheck returns a closure that validates store availability. The
// closure signature matches standard health check interfaces that expect
// func(context.Context) error.
func Healthcheck(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
