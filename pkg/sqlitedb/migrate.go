package sqlitedb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrate brings the queue schema up to date using goose migrations embedded
// in the binary. It is idempotent and safe to invoke on every process start:
// already-applied versions are skipped and no Up migration drops or alters
// existing data.
func Migrate(ctx context.Context, db *sql.DB, cfg Config, log logger) error {
	// Route goose migration logs through the application logger instead of stdout.
	goose.SetLogger(newSlogAdapter(log))
	goose.SetBaseFS(embeddedMigrations)
	if cfg.MigrationsTable != "" {
		goose.SetTableName(cfg.MigrationsTable)
	}

	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.Join(ErrSchema, err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.Join(ErrSchema, err)
	}

	return nil
}

// logger defines the interface required for migration logging integration.
// Compatible with slog and other structured loggers.
type logger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// migrateSlogAdapter bridges goose's Printf-style logging to structured
// logging. Maps goose's Fatalf to ErrorContext and Printf to InfoContext.
type migrateSlogAdapter struct {
	log logger
}

func newSlogAdapter(log logger) goose.Logger {
	return &migrateSlogAdapter{log: log}
}

func (a *migrateSlogAdapter) Fatalf(format string, v ...any) {
	a.log.ErrorContext(context.Background(), fmt.Sprintf(format, v...))
}

func (a *migrateSlogAdapter) Printf(format string, v ...any) {
	a.log.InfoContext(context.Background(), fmt.Sprintf(format, v...))
}
