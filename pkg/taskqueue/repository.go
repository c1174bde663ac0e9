package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Nomoos/prismq-queue/pkg/sqlitedb"
)

// Repository provides the typed operations over persisted tasks. All write
// operations run inside a single immediate-mode transaction and append
// exactly one audit row within that transaction, so the audit log never
// disagrees with task state.
//
// Concurrency comes entirely from storage-level transactional isolation:
// callers may be goroutines or separate OS processes sharing the store file.
type Repository struct {
	db            *sql.DB
	strategy      Strategy
	leaseDuration time.Duration
	backoff       BackoffFunc
	now           func() time.Time
}

// BackoffFunc maps the attempt count after a failure to the delay before the
// task becomes claimable again.
type BackoffFunc func(attempts int) time.Duration

// DefaultBackoff doubles the delay per attempt, capped at five minutes:
// 2s, 4s, 8s, ... 5m.
func DefaultBackoff(attempts int) time.Duration {
	const maxBackoff = 5 * time.Minute
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// NewRepository creates a task repository over an initialized store handle.
func NewRepository(db *sql.DB, opts ...RepositoryOption) (*Repository, error) {
	if db == nil {
		return nil, ErrStoreNil
	}

	options := &repositoryOptions{
		strategy:      priorityStrategy{},
		leaseDuration: 5 * time.Minute,
		backoff:       DefaultBackoff,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Repository{
		db:            db,
		strategy:      options.strategy,
		leaseDuration: options.leaseDuration,
		backoff:       options.backoff,
		now:           options.now,
	}, nil
}

// LeaseDuration reports the lease granted to each claim.
func (r *Repository) LeaseDuration() time.Duration {
	return r.leaseDuration
}

// EnqueueParams describes a new task. Zero values fall back to defaults:
// RunAfter to now, MaxAttempts to DefaultMaxAttempts, Priority is used as-is
// (0 is the most urgent).
type EnqueueParams struct {
	Type           string
	Payload        []byte
	Compatibility  []byte
	Priority       int
	RunAfter       time.Time
	IdempotencyKey string
	MaxAttempts    int
}

const insertTaskSQL = `INSERT INTO tasks
(task_type, priority, payload, compatibility, status, attempts, max_attempts,
 run_after, locked_by, error_message, idempotency_key, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?, '', '', ?, ?, ?)`

// Enqueue inserts a new queued task and returns its id. A colliding
// idempotency key yields ErrDuplicateTask instead of a second row, which
// makes producer-side retries safe.
func (r *Repository) Enqueue(ctx context.Context, p EnqueueParams) (int64, error) {
	if p.Type == "" {
		return 0, ErrTaskTypeRequired
	}
	if p.Priority < 0 {
		return 0, ErrInvalidPriority
	}

	now := r.now()
	runAfter := p.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	var idemKey any
	if p.IdempotencyKey != "" {
		idemKey = p.IdempotencyKey
	}

	var id int64
	err := sqlitedb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertTaskSQL,
			p.Type, p.Priority, nullableBytes(p.Payload), nullableBytes(p.Compatibility),
			string(StatusQueued), maxAttempts, toMillis(runAfter), idemKey,
			toMillis(now), toMillis(now))
		if err != nil {
			if sqlitedb.IsUniqueConstraintError(err) {
				return fmt.Errorf("%w: %q", ErrDuplicateTask, p.IdempotencyKey)
			}
			return sqlitedb.ClassifyError(err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return sqlitedb.ClassifyError(err)
		}

		details, _ := json.Marshal(map[string]any{
			"type":         p.Type,
			"priority":     p.Priority,
			"run_after":    runAfter.UTC(),
			"max_attempts": maxAttempts,
		})
		return auditAppend(ctx, tx, now, id, LevelInfo, "task created", details)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Claim atomically transfers ownership of the single best eligible task to
// workerID using the repository's configured strategy. It returns (nil, nil)
// when no eligible task exists.
func (r *Repository) Claim(ctx context.Context, workerID string) (*Task, error) {
	return r.ClaimWith(ctx, workerID, r.strategy)
}

// ClaimWith is Claim with a per-call ordering strategy.
//
// The select and the conditional update run in the same immediate
// transaction, so no two concurrent claims can ever receive the same row. The
// update re-checks status = queued as a defense-in-depth guard.
func (r *Repository) ClaimWith(ctx context.Context, workerID string, strategy Strategy) (*Task, error) {
	if workerID == "" {
		return nil, ErrWorkerIDRequired
	}
	if strategy == nil {
		strategy = r.strategy
	}

	var claimed *Task
	err := sqlitedb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		now := r.now()
		query := selectTaskSQL +
			` WHERE status = ? AND run_after <= ? ORDER BY ` + strategy.OrderBy() + ` LIMIT 1`

		task, err := scanTask(tx.QueryRowContext(ctx, query, string(StatusQueued), toMillis(now)))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return sqlitedb.ClassifyError(err)
		}

		leaseUntil := now.Add(r.leaseDuration)
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, locked_by = ?, lease_until = ?, reserved_at = ?,
			 processing_started_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(StatusProcessing), workerID, toMillis(leaseUntil), toMillis(now),
			toMillis(now), toMillis(now), task.ID, string(StatusQueued))
		if err != nil {
			return sqlitedb.ClassifyError(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return sqlitedb.ClassifyError(err)
		} else if n == 0 {
			// Another transaction won the row after our select; with
			// immediate-mode transactions this should not happen, treat it
			// as an empty queue rather than an error.
			return nil
		}

		task.Status = StatusProcessing
		task.LockedBy = workerID
		task.LeaseUntil = &leaseUntil
		reservedAt := now
		task.ReservedAt = &reservedAt
		task.ProcessingStartedAt = &reservedAt
		task.UpdatedAt = now
		claimed = task

		details, _ := json.Marshal(map[string]any{
			"worker_id":   workerID,
			"lease_until": leaseUntil.UTC(),
			"strategy":    strategy.Name(),
		})
		return auditAppend(ctx, tx, now, task.ID, LevelInfo, "task claimed", details)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RenewLease extends the lease on a processing task. It returns false when
// the lease was already reclaimed or the task is no longer owned by workerID,
// signalling the caller to abort its in-flight work.
func (r *Repository) RenewLease(ctx context.Context, id int64, workerID string, extension time.Duration) (bool, error) {
	if workerID == "" {
		return false, ErrWorkerIDRequired
	}
	if extension <= 0 {
		extension = r.leaseDuration
	}

	renewed := false
	err := sqlitedb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		now := r.now()
		leaseUntil := now.Add(extension)
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET lease_until = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND locked_by = ?`,
			toMillis(leaseUntil), toMillis(now), id, string(StatusProcessing), workerID)
		if err != nil {
			return sqlitedb.ClassifyError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return sqlitedb.ClassifyError(err)
		}
		if n == 0 {
			return nil
		}

		renewed = true
		details, _ := json.Marshal(map[string]any{
			"worker_id":   workerID,
			"lease_until": leaseUntil.UTC(),
		})
		return auditAppend(ctx, tx, now, id, LevelInfo, "lease renewed", details)
	})
	if err != nil {
		return false, err
	}
	return renewed, nil
}

// Complete marks a processing task as successfully finished. The result, if
// any, is recorded in the audit trail. ErrNotTaskOwner guards against a
// worker completing a task it lost to lease reclaim.
func (r *Repository) Complete(ctx context.Context, id int64, workerID string, result []byte) error {
	if workerID == "" {
		return ErrWorkerIDRequired
	}

	return sqlitedb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		task, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if task.Status != StatusProcessing || task.LockedBy != workerID {
			return fmt.Errorf("%w: task %d held by %q", ErrNotTaskOwner, id, task.LockedBy)
		}

		now := r.now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, finished_at = ?, locked_by = '', lease_until = NULL,
			 error_message = '', updated_at = ?
			 WHERE id = ? AND status = ? AND locked_by = ?`,
			string(StatusCompleted), toMillis(now), toMillis(now),
			id, string(StatusProcessing), workerID); err != nil {
			return sqlitedb.ClassifyError(err)
		}

		details, _ := json.Marshal(map[string]any{
			"worker_id": workerID,
			"attempts":  task.Attempts,
			"result":    json.RawMessage(nonEmptyJSON(result)),
		})
		return auditAppend(ctx, tx, now, id, LevelInfo, "task completed", details)
	})
}

// Fail reports a failed execution. Retryable failures with attempts remaining
// requeue the task with exponential backoff; everything else transitions it
// to the terminal failed state. Same ownership precondition as Complete.
func (r *Repository) Fail(ctx context.Context, id int64, workerID string, errMsg string, retryable bool) error {
	if workerID == "" {
		return ErrWorkerIDRequired
	}

	return sqlitedb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		task, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if task.Status != StatusProcessing || task.LockedBy != workerID {
			return fmt.Errorf("%w: task %d held by %q", ErrNotTaskOwner, id, task.LockedBy)
		}
		return r.failTx(ctx, tx, task, errMsg, retryable)
	})
}

// failTx applies the retry-or-permanently-fail decision to a processing task.
// Must run inside the transaction that verified ownership or expiry.
func (r *Repository) failTx(ctx context.Context, tx *sql.Tx, task *Task, errMsg string, retryable bool) error {
	now := r.now()
	attempts := task.Attempts + 1

	if retryable && attempts < task.MaxAttempts {
		delay := r.backoff(attempts)
		runAfter := now.Add(delay)
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, attempts = ?, locked_by = '', lease_until = NULL,
			 reserved_at = NULL, processing_started_at = NULL, run_after = ?,
			 error_message = ?, updated_at = ?
			 WHERE id = ?`,
			string(StatusQueued), attempts, toMillis(runAfter), errMsg, toMillis(now), task.ID); err != nil {
			return sqlitedb.ClassifyError(err)
		}

		details, _ := json.Marshal(map[string]any{
			"worker_id":    task.LockedBy,
			"attempts":     attempts,
			"max_attempts": task.MaxAttempts,
			"run_after":    runAfter.UTC(),
			"error":        errMsg,
		})
		return auditAppend(ctx, tx, now, task.ID, LevelWarn, "task requeued for retry", details)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, attempts = ?, finished_at = ?, locked_by = '',
		 lease_until = NULL, error_message = ?, updated_at = ?
		 WHERE id = ?`,
		string(StatusFailed), attempts, toMillis(now), errMsg, toMillis(now), task.ID); err != nil {
		return sqlitedb.ClassifyError(err)
	}

	details, _ := json.Marshal(map[string]any{
		"worker_id":    task.LockedBy,
		"attempts":     attempts,
		"max_attempts": task.MaxAttempts,
		"error":        errMsg,
	})
	return auditAppend(ctx, tx, now, task.ID, LevelError, "task permanently failed", details)
}

const leaseExpiredMessage = "lease expired"

// ReclaimExpiredLeases is the crash-recovery sweep: every processing task
// whose lease passed without completion goes through the same
// retry-or-permanently-fail decision as Fail, with a retryable "lease
// expired" error. Returns the number of reclaimed tasks.
func (r *Repository) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	count := 0
	err := sqlitedb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		now := r.now()
		rows, err := tx.QueryContext(ctx,
			selectTaskSQL+` WHERE status = ? AND lease_until IS NOT NULL AND lease_until < ?`,
			string(StatusProcessing), toMillis(now))
		if err != nil {
			return sqlitedb.ClassifyError(err)
		}

		// Fully drain the cursor before issuing updates on the same connection.
		expired, err := collectTasks(rows)
		if err != nil {
			return err
		}

		for i := range expired {
			if err := r.failTx(ctx, tx, &expired[i], leaseExpiredMessage, true); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ExpiredLeases lists processing tasks whose lease has passed, without
// mutating them. The coordinator uses it to apply worker-liveness checks
// before reclaiming row by row.
func (r *Repository) ExpiredLeases(ctx context.Context) ([]Task, error) {
	rows, err := r.db.QueryContext(ctx,
		selectTaskSQL+` WHERE status = ? AND lease_until IS NOT NULL AND lease_until < ?`,
		string(StatusProcessing), toMillis(r.now()))
	if err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	return collectTasks(rows)
}

// ReclaimLease reclaims a single expired lease. It re-verifies inside the
// transaction that the task is still processing with an expired lease, so a
// concurrent renewal or completion makes it a no-op. Returns whether the
// task was reclaimed.
func (r *Repository) ReclaimLease(ctx context.Context, id int64) (bool, error) {
	reclaimed := false
	err := sqlitedb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		task, err := getTaskTx(ctx, tx, id)
		if errors.Is(err, ErrTaskNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if task.Status != StatusProcessing || task.LeaseUntil == nil || !task.LeaseUntil.Before(r.now()) {
			return nil
		}
		if err := r.failTx(ctx, tx, task, leaseExpiredMessage, true); err != nil {
			return err
		}
		reclaimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return reclaimed, nil
}

// GetTask fetches a task by id, including terminal ones: permanently failed
// tasks stay queryable with their final error message and attempt count.
func (r *Repository) GetTask(ctx context.Context, id int64) (*Task, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx, selectTaskSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	return task, nil
}

// Stats returns the number of tasks per status.
func (r *Repository) Stats(ctx context.Context) (map[Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	defer rows.Close()

	stats := make(map[Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, sqlitedb.ClassifyError(err)
		}
		stats[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	return stats, nil
}

// PurgeFinished is the retention maintenance operation: it deletes completed
// and failed tasks that finished more than olderThan ago, together with their
// audit trails, and returns the number of tasks removed. It never touches
// queued or processing rows.
func (r *Repository) PurgeFinished(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := toMillis(r.now().Add(-olderThan))

	var purged int64
	err := sqlitedb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		// Audit rows reference tasks, so they go first.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM task_audit_log WHERE task_id IN (
			     SELECT id FROM tasks
			     WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?)`,
			string(StatusCompleted), string(StatusFailed), cutoff); err != nil {
			return sqlitedb.ClassifyError(err)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM tasks
			 WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
			string(StatusCompleted), string(StatusFailed), cutoff)
		if err != nil {
			return sqlitedb.ClassifyError(err)
		}
		if purged, err = res.RowsAffected(); err != nil {
			return sqlitedb.ClassifyError(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

const selectTaskSQL = `SELECT id, task_type, priority, payload, compatibility, status,
attempts, max_attempts, run_after, lease_until, reserved_at, processing_started_at,
finished_at, locked_by, error_message, idempotency_key, created_at, updated_at
FROM tasks`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                 Task
		status            string
		runAfter          int64
		createdAt         int64
		updatedAt         int64
		leaseUntil        sql.NullInt64
		reservedAt        sql.NullInt64
		processingStarted sql.NullInt64
		finishedAt        sql.NullInt64
		idempotencyKey    sql.NullString
	)

	if err := row.Scan(&t.ID, &t.Type, &t.Priority, &t.Payload, &t.Compatibility, &status,
		&t.Attempts, &t.MaxAttempts, &runAfter, &leaseUntil, &reservedAt, &processingStarted,
		&finishedAt, &t.LockedBy, &t.ErrorMessage, &idempotencyKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.RunAfter = fromMillis(runAfter)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	t.LeaseUntil = timePtr(leaseUntil)
	t.ReservedAt = timePtr(reservedAt)
	t.ProcessingStartedAt = timePtr(processingStarted)
	t.FinishedAt = timePtr(finishedAt)
	if idempotencyKey.Valid {
		t.IdempotencyKey = idempotencyKey.String
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, sqlitedb.ClassifyError(err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	return tasks, nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id int64) (*Task, error) {
	task, err := scanTask(tx.QueryRowContext(ctx, selectTaskSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	return task, nil
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nonEmptyJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
