// Package sqlitedb provides utilities for interacting with the queue's
// single-file SQLite store using the pure-Go modernc.org/sqlite driver. It
// offers a thin abstraction around opening and configuring the store,
// immediate-mode transactions, schema migrations, health checks, and common
// error helpers so that the queue can bootstrap a durable storage layer with
// only a few lines of code.
//
// The package purposefully keeps a very small API surface while relying on
// battle-tested upstream libraries (modernc.org/sqlite for the engine and
// goose/v3 for schema migrations) so that callers are never locked-in and can
// freely extend the behaviour where needed.
//
// # Architecture
//
// At its core the package exposes three cooperating building blocks:
//
//   - Config: a declarative struct whose fields are populated from
//     environment variables via github.com/caarlos0/env. It controls the
//     store path, busy timeout, connection limits and retry behaviour.
//
//   - Connect: opens a *sql.DB based on Config, creating parent
//     directories as needed and applying the durability pragmas
//     (write-ahead logging, busy timeout, foreign-key enforcement).
//     Transactions started through the returned handle acquire the write
//     lock at BEGIN, which closes the select-then-lose-the-race window in
//     concurrent claim operations.
//
//   - Migrate: runs goose database migrations embedded in the binary,
//     guaranteeing the schema is up-to-date before the queue starts
//     accepting work. It is safe to call on every process start and never
//     drops or alters existing data.
//
// # Usage
//
//	var cfg sqlitedb.Config
//	if err := env.Parse(&cfg); err != nil {
//	    panic(err)
//	}
//
//	ctx := context.Background()
//	db, err := sqlitedb.Connect(ctx, cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	if err := sqlitedb.Migrate(ctx, db, cfg, slog.Default()); err != nil {
//	    panic(err)
//	}
//
// # Error Handling
//
// Convenience helpers such as [IsBusyError] or [IsUniqueConstraintError]
// unwrap errors returned by the driver and make error classification trivial
// inside business logic. [ErrBusy] marks transient lock contention that the
// caller may retry; [ErrStorage] and [ErrSchema] are structural and are not
// retried automatically.
package sqlitedb
