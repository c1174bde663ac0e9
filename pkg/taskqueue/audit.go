package taskqueue

import (
	"context"
	"database/sql"
	"time"

	"github.com/Nomoos/prismq-queue/pkg/sqlitedb"
)

// execer is the least common denominator of *sql.DB and *sql.Tx. Audit rows
// for state transitions are appended on the same *sql.Tx as the transition
// itself, so the log and the task state commit or roll back together.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const auditInsertSQL = `INSERT INTO task_audit_log (task_id, created_at, level, message, details)
VALUES (?, ?, ?, ?, ?)`

// auditAppend writes one immutable log row for a task state transition.
func auditAppend(ctx context.Context, ex execer, at time.Time, taskID int64, level Level, message string, details []byte) error {
	var det any
	if len(details) > 0 {
		det = details
	}
	if _, err := ex.ExecContext(ctx, auditInsertSQL, taskID, toMillis(at), string(level), message, det); err != nil {
		return sqlitedb.ClassifyError(err)
	}
	return nil
}

// AuditTrail returns the audit entries recorded for a task, oldest first.
// This is a diagnostics read path; the queue core itself never consumes it.
func (r *Repository) AuditTrail(ctx context.Context, taskID int64) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, task_id, created_at, level, message, details
		 FROM task_audit_log WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e         AuditEntry
			createdAt int64
			level     string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &createdAt, &level, &e.Message, &e.Details); err != nil {
			return nil, sqlitedb.ClassifyError(err)
		}
		e.CreatedAt = fromMillis(createdAt)
		e.Level = Level(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlitedb.ClassifyError(err)
	}
	return entries, nil
}
