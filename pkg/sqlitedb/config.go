package sqlitedb

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Path         string        `env:"QUEUE_DB_PATH"`                           // Path is the location of the store file. Empty means the platform data directory.
	BusyTimeout  time.Duration `env:"QUEUE_DB_BUSY_TIMEOUT" envDefault:"5s"`   // BusyTimeout is how long a statement waits on the write lock before failing with ErrBusy.
	MaxOpenConns int           `env:"QUEUE_DB_MAX_OPEN_CONNS" envDefault:"4"`  // MaxOpenConns is the maximum number of open connections to the store.
	MaxIdleConns int           `env:"QUEUE_DB_MAX_IDLE_CONNS" envDefault:"2"`  // MaxIdleConns is the maximum number of idle connections kept for reuse.
	ConnLifetime time.Duration `env:"QUEUE_DB_CONN_LIFETIME" envDefault:"30m"` // ConnLifetime is the maximum amount of time a connection may be reused.

	RetryAttempts int           `env:"QUEUE_DB_RETRY_ATTEMPTS" envDefault:"3"`     // RetryAttempts is the number of attempts to open the store on startup.
	RetryInterval time.Duration `env:"QUEUE_DB_RETRY_INTERVAL" envDefault:"500ms"` // RetryInterval is the base interval between open attempts.

	MigrationsTable string `env:"QUEUE_DB_MIGRATIONS_TABLE" envDefault:"schema_migrations"` // MigrationsTable is the table used to store the migration version.
}

// DefaultPath returns the platform-appropriate location for the store file,
// used when QUEUE_DB_PATH is not set. On Linux this follows the XDG base
// directory convention.
func DefaultPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "prismq", "queue.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "prismq", "queue.db")
	}
	return filepath.Join(home, ".local", "share", "prismq", "queue.db")
}
