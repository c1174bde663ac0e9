package taskqueue

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil database handle is provided
	ErrStoreNil = errors.New("store handle cannot be nil")

	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrTaskTypeRequired is returned when enqueueing without a task type
	ErrTaskTypeRequired = errors.New("task type cannot be empty")

	// ErrWorkerIDRequired is returned when an operation is attempted without a worker identity
	ErrWorkerIDRequired = errors.New("worker id cannot be empty")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadMarshal is returned when payload marshaling fails
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrInvalidPriority is returned when priority is negative
	ErrInvalidPriority = errors.New("priority must be zero or positive")

	// ErrDuplicateTask is returned when the idempotency key of a new task
	// collides with any task ever created; the producer may treat it as
	// success of an earlier submission
	ErrDuplicateTask = errors.New("task with the same idempotency key already exists")

	// ErrTaskNotFound is returned when the referenced task does not exist
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotTaskOwner is returned when a worker mutates a task it no longer
	// owns, typically after its lease expired and the task was reclaimed;
	// the caller must discard its in-flight work rather than retry
	ErrNotTaskOwner = errors.New("task is not owned by this worker")

	// ErrUnknownStrategy is returned when resolving an unregistered claiming strategy
	ErrUnknownStrategy = errors.New("unknown claiming strategy")

	// ErrStrategyRegistered is returned when registering a duplicate strategy name
	ErrStrategyRegistered = errors.New("claiming strategy already registered")

	// ErrHandlerNotFound is returned when no handler is registered for a task type
	ErrHandlerNotFound = errors.New("no handler registered for task type")

	// ErrNoHandlers is returned when a worker starts with no handlers registered
	ErrNoHandlers = errors.New("no task handlers registered")
)

// Permanent wraps a handler error to mark the failure as non-retryable: the
// task transitions straight to failed regardless of remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// isPermanent reports whether err (or anything it wraps) was marked with Permanent.
func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
