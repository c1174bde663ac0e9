package taskqueue

import (
	"log/slog"
	"time"
)

// CoordinatorOption is a functional option for configuring a Coordinator
type CoordinatorOption func(*coordinatorOptions)

type coordinatorOptions struct {
	registry      *WorkerRegistry
	sweepInterval time.Duration
	staleAfter    time.Duration
	retention     time.Duration
	logger        *slog.Logger
}

// WithSweepInterval sets how often the coordinator scans for expired leases
func WithSweepInterval(d time.Duration) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithWorkerRegistry enables the liveness refinement: expired leases held by
// workers with a recent heartbeat are deferred instead of reclaimed
func WithWorkerRegistry(registry *WorkerRegistry) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.registry = registry
	}
}

// WithStaleWorkerAfter sets how old a heartbeat may be before its worker is
// treated as dead
func WithStaleWorkerAfter(d time.Duration) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if d > 0 {
			o.staleAfter = d
		}
	}
}

// WithRetention enables purging of completed and failed tasks older than age
// on every sweep
func WithRetention(age time.Duration) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if age > 0 {
			o.retention = age
		}
	}
}

// WithCoordinatorLogger sets the logger for the coordinator
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
