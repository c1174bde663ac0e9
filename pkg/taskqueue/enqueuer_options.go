package taskqueue

import "time"

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultPriority    int
	defaultMaxAttempts int
}

// WithDefaultPriority sets the priority applied when Enqueue gets none
func WithDefaultPriority(priority int) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if priority >= 0 {
			o.defaultPriority = priority
		}
	}
}

// WithDefaultMaxAttempts sets the attempt limit applied when Enqueue gets none
func WithDefaultMaxAttempts(maxAttempts int) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if maxAttempts > 0 {
			o.defaultMaxAttempts = maxAttempts
		}
	}
}

// EnqueueOption is a functional option for the Enqueue method
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	taskType       string
	priority       int
	maxAttempts    int
	delay          time.Duration
	runAt          *time.Time
	idempotencyKey string
	compatibility  any
}

// WithTaskType sets a custom task type instead of the payload struct name
func WithTaskType(taskType string) EnqueueOption {
	return func(o *enqueueOptions) {
		if taskType != "" {
			o.taskType = taskType
		}
	}
}

// WithPriority sets the priority for the task (0 is most urgent)
func WithPriority(priority int) EnqueueOption {
	return func(o *enqueueOptions) {
		if priority >= 0 {
			o.priority = priority
		}
	}
}

// WithMaxAttempts sets the maximum number of execution attempts (1-10)
// Capped at 10 to prevent infinite retry loops on persistent failures
func WithMaxAttempts(maxAttempts int) EnqueueOption {
	return func(o *enqueueOptions) {
		if maxAttempts >= 1 && maxAttempts <= 10 {
			o.maxAttempts = maxAttempts
		}
	}
}

// WithDelay makes the task invisible to claimers for the given duration
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithRunAt sets the earliest time the task may be claimed
func WithRunAt(runAt time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.runAt = &runAt
	}
}

// WithIdempotencyKey suppresses duplicate submissions: a second enqueue with
// the same key returns ErrDuplicateTask
func WithIdempotencyKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		if key != "" {
			o.idempotencyKey = key
		}
	}
}

// WithCompatibility attaches a worker-capability descriptor to the task;
// matching logic lives outside the queue core
func WithCompatibility(descriptor any) EnqueueOption {
	return func(o *enqueueOptions) {
		o.compatibility = descriptor
	}
}
