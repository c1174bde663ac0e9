package taskqueue

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Priority is ascending: 0 is the most urgent, larger values are served later
// under priority ordering.
const (
	PriorityUrgent  = 0
	PriorityHigh    = 25
	PriorityDefault = 100
	PriorityLow     = 500
)

// DefaultMaxAttempts bounds automatic retries when the producer does not
// specify its own limit.
const DefaultMaxAttempts = 3

// Task is a unit of work persisted in the queue.
//
// Exactly one status holds at any time; LockedBy and LeaseUntil are set if
// and only if the task is processing. A task whose RunAfter lies in the
// future is invisible to claimers.
type Task struct {
	ID                  int64      `json:"id"`
	Type                string     `json:"type"`
	Priority            int        `json:"priority"`
	Payload             []byte     `json:"payload,omitempty"`
	Compatibility       []byte     `json:"compatibility,omitempty"`
	Status              Status     `json:"status"`
	Attempts            int        `json:"attempts"`
	MaxAttempts         int        `json:"max_attempts"`
	RunAfter            time.Time  `json:"run_after"`
	LeaseUntil          *time.Time `json:"lease_until,omitempty"`
	ReservedAt          *time.Time `json:"reserved_at,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
	LockedBy            string     `json:"locked_by,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	IdempotencyKey      string     `json:"idempotency_key,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// WorkerInfo is a registered executor identity. Rows are created on first
// registration, updated on every heartbeat, and never hard-deleted.
type WorkerInfo struct {
	WorkerID      string    `json:"worker_id"`
	Capabilities  []byte    `json:"capabilities,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CreatedAt     time.Time `json:"created_at"`
}

// Level grades audit log entries.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// AuditEntry is an append-only record of a single task state transition.
type AuditEntry struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Details   []byte    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Timestamps are persisted as Unix milliseconds so that comparisons in SQL
// are plain integer comparisons regardless of driver time formatting.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
