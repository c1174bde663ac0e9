package taskqueue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	workerID           string
	registry           *WorkerRegistry
	pullInterval       time.Duration
	renewInterval      time.Duration
	maxConcurrentTasks int
	capabilities       []byte
	logger             *slog.Logger
}

// WithWorkerID sets a stable worker identity instead of a random one
func WithWorkerID(id string) WorkerOption {
	return func(o *workerOptions) {
		if id != "" {
			o.workerID = id
		}
	}
}

// WithRegistry makes the worker register itself and heartbeat on every poll
func WithRegistry(registry *WorkerRegistry) WorkerOption {
	return func(o *workerOptions) {
		o.registry = registry
	}
}

// WithPullInterval sets how often the worker checks for new tasks
func WithPullInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pullInterval = d
		}
	}
}

// WithRenewInterval sets how often the lease is renewed while a handler runs;
// the default is a third of the repository lease duration
func WithRenewInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.renewInterval = d
		}
	}
}

// WithMaxConcurrentTasks sets the maximum number of concurrent tasks
func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxConcurrentTasks = n
		}
	}
}

// WithCapabilities sets the opaque capability descriptor stored in the
// worker registry on registration
func WithCapabilities(capabilities []byte) WorkerOption {
	return func(o *workerOptions) {
		o.capabilities = capabilities
	}
}

// WithWorkerLogger sets the logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
