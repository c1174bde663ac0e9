package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Nomoos/prismq-queue/pkg/sqlitedb"
)

// WorkerRegistry tracks live worker identities and their last heartbeat. The
// coordinator consults it to distinguish a slow worker from a dead one before
// reclaiming an expired lease. This is an optimization, not a correctness
// requirement.
type WorkerRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// NewWorkerRegistry creates a registry over an initialized store handle.
func NewWorkerRegistry(db *sql.DB) (*WorkerRegistry, error) {
	if db == nil {
		return nil, ErrStoreNil
	}
	return &WorkerRegistry{db: db, now: time.Now}, nil
}

// Register upserts a worker identity with its capability descriptor and
// counts as a heartbeat.
func (wr *WorkerRegistry) Register(ctx context.Context, workerID string, capabilities []byte) error {
	if workerID == "" {
		return ErrWorkerIDRequired
	}

	now := toMillis(wr.now())
	_, err := wr.db.ExecContext(ctx,
		`INSERT INTO workers (worker_id, capabilities, last_heartbeat, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (worker_id) DO UPDATE SET
		     capabilities = excluded.capabilities,
		     last_heartbeat = excluded.last_heartbeat`,
		workerID, nullableBytes(capabilities), now, now)
	return sqlitedb.ClassifyError(err)
}

// Heartbeat updates the worker's last-heartbeat time, creating the row if the
// worker never registered.
func (wr *WorkerRegistry) Heartbeat(ctx context.Context, workerID string) error {
	if workerID == "" {
		return ErrWorkerIDRequired
	}

	now := toMillis(wr.now())
	_, err := wr.db.ExecContext(ctx,
		`INSERT INTO workers (worker_id, last_heartbeat, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (worker_id) DO UPDATE SET last_heartbeat = excluded.last_heartbeat`,
		workerID, now, now)
	return sqlitedb.ClassifyError(err)
}

// IsAlive reports whether the worker heartbeated within staleThreshold.
// Unknown workers are not alive.
func (wr *WorkerRegistry) IsAlive(ctx context.Context, workerID string, staleThreshold time.Duration) (bool, error) {
	if workerID == "" {
		return false, nil
	}

	var lastHeartbeat int64
	err := wr.db.QueryRowContext(ctx,
		`SELECT last_heartbeat FROM workers WHERE worker_id = ?`, workerID).Scan(&lastHeartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, sqlitedb.ClassifyError(err)
	}

	return fromMillis(lastHeartbeat).After(wr.now().Add(-staleThreshold)), nil
}

// Workers lists all registered workers, most recently heartbeated first.
func (wr *WorkerRegistry) Workers(ctx context.Context) ([]WorkerInfo, error) {
	rows, err := wr.db.QueryContext(ctx,
		`SELECT worker_id, capabilities, last_heartbeat, created_at
		 FROM workers ORDER BY last_heartbeat DESC`)
	if err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	defer rows.Close()

	var workers []WorkerInfo
	for rows.Next() {
		var (
			w             WorkerInfo
			lastHeartbeat int64
			createdAt     int64
		)
		if err := rows.Scan(&w.WorkerID, &w.Capabilities, &lastHeartbeat, &createdAt); err != nil {
			return nil, sqlitedb.ClassifyError(err)
		}
		w.LastHeartbeat = fromMillis(lastHeartbeat)
		w.CreatedAt = fromMillis(createdAt)
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	return workers, nil
}
