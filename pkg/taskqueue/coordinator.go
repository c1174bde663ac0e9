package taskqueue

import (
	"context"
	"log/slog"
	"time"
)

// Coordinator runs the periodic maintenance the queue needs to survive worker
// crashes: it sweeps expired leases back through the retry-or-fail decision
// and, when configured, purges finished tasks past their retention age.
//
// Lease renewal stays caller-driven: the coordinator never extends a lease on
// a worker's behalf. When a WorkerRegistry is attached, a lease whose holder
// heartbeated recently is left alone for one more sweep: a slow worker gets
// the chance to renew explicitly, a dead one cannot.
type Coordinator struct {
	repo       *Repository
	registry   *WorkerRegistry
	interval   time.Duration
	staleAfter time.Duration
	retention  time.Duration
	logger     *slog.Logger
}

// NewCoordinator creates a coordinator over the given repository.
func NewCoordinator(repo *Repository, opts ...CoordinatorOption) (*Coordinator, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &coordinatorOptions{
		sweepInterval: 30 * time.Second,
		staleAfter:    time.Minute,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Coordinator{
		repo:       repo,
		registry:   options.registry,
		interval:   options.sweepInterval,
		staleAfter: options.staleAfter,
		retention:  options.retention,
		logger:     options.logger,
	}, nil
}

// Start blocks, sweeping on the configured interval until ctx is cancelled.
// The first sweep runs immediately so a restarted process reclaims abandoned
// work without waiting a full interval.
func (c *Coordinator) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sweepAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator shutting down")
			return ctx.Err()
		case <-ticker.C:
			c.sweepAndLog(ctx)
		}
	}
}

// Run returns a function suitable for errgroup.
func (c *Coordinator) Run(ctx context.Context) func() error {
	return func() error {
		return c.Start(ctx)
	}
}

func (c *Coordinator) sweepAndLog(ctx context.Context) {
	reclaimed, err := c.Sweep(ctx)
	if err != nil {
		c.logger.Error("lease sweep failed", slog.String("error", err.Error()))
	} else if reclaimed > 0 {
		c.logger.Info("reclaimed expired leases", slog.Int("count", reclaimed))
	}

	if c.retention > 0 {
		purged, err := c.repo.PurgeFinished(ctx, c.retention)
		if err != nil {
			c.logger.Error("retention purge failed", slog.String("error", err.Error()))
		} else if purged > 0 {
			c.logger.Info("purged finished tasks",
				slog.Int64("count", purged),
				slog.Duration("retention", c.retention))
		}
	}
}

// Sweep performs one reclaim pass and returns the number of tasks whose
// leases were reclaimed. Without a registry it reclaims every expired lease
// in a single transaction; with a registry it defers leases whose holders
// still heartbeat.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	if c.registry == nil {
		return c.repo.ReclaimExpiredLeases(ctx)
	}

	expired, err := c.repo.ExpiredLeases(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range expired {
		task := &expired[i]

		alive, err := c.registry.IsAlive(ctx, task.LockedBy, c.staleAfter)
		if err != nil {
			c.logger.Error("worker liveness check failed",
				slog.Int64("task_id", task.ID),
				slog.String("worker_id", task.LockedBy),
				slog.String("error", err.Error()))
			continue
		}
		if alive {
			c.logger.Debug("lease expired but holder is heartbeating, deferring reclaim",
				slog.Int64("task_id", task.ID),
				slog.String("worker_id", task.LockedBy))
			continue
		}

		reclaimed, err := c.repo.ReclaimLease(ctx, task.ID)
		if err != nil {
			return count, err
		}
		if reclaimed {
			c.logger.Warn("reclaimed lease from dead worker",
				slog.Int64("task_id", task.ID),
				slog.String("worker_id", task.LockedBy))
			count++
		}
	}
	return count, nil
}
