package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Worker polls the queue, dispatches claimed tasks to registered handlers and
// reports the outcome back through the repository. While a handler runs, the
// worker renews the task lease on a timer; if a renewal is rejected (the
// lease was reclaimed), the handler context is cancelled and the in-flight
// result is discarded.
type Worker struct {
	repo     *Repository
	registry *WorkerRegistry
	handlers map[string]Handler
	workerID string
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations

	// Configuration
	pullInterval  time.Duration
	renewInterval time.Duration
	capabilities  []byte
	logger        *slog.Logger

	// State management
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a new task worker
func NewWorker(repo *Repository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &workerOptions{
		workerID:           uuid.New().String(),
		pullInterval:       5 * time.Second,
		maxConcurrentTasks: 1,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	renewInterval := options.renewInterval
	if renewInterval <= 0 {
		// Renew well before expiry so one missed tick does not lose the lease.
		renewInterval = repo.LeaseDuration() / 3
		if renewInterval < time.Second {
			renewInterval = time.Second
		}
	}

	return &Worker{
		repo:          repo,
		registry:      options.registry,
		handlers:      make(map[string]Handler),
		workerID:      options.workerID,
		sem:           make(chan struct{}, options.maxConcurrentTasks),
		pullInterval:  options.pullInterval,
		renewInterval: renewInterval,
		capabilities:  options.capabilities,
		logger:        options.logger,
	}, nil
}

// WorkerID returns the identity this worker claims tasks under.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// RegisterHandler registers a single task handler
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[handler.Type()] = handler
	return nil
}

// RegisterHandlers registers multiple task handlers
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start begins processing tasks in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}

	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)

	if w.registry != nil {
		if err := w.registry.Register(w.ctx, w.workerID, w.capabilities); err != nil {
			return fmt.Errorf("failed to register worker %s: %w", w.workerID, err)
		}
	}

	go w.run()

	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID),
		slog.Int("max_concurrent", cap(w.sem)))

	return nil
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	// Use stopMu to synchronize with run() goroutine
	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("worker stopping, waiting for active tasks to complete",
		slog.String("worker_id", w.workerID))

	w.wg.Wait()

	w.logger.Info("worker stopped", slog.String("worker_id", w.workerID))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// run is the main processing loop
func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.heartbeat()

			// Try to acquire a slot
			select {
			case w.sem <- struct{}{}:
				// Use stopMu to ensure we don't add to WaitGroup after Stop() starts
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem // Release slot
					return
				}

				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }() // Release slot

					if err := w.pullAndProcess(); err != nil {
						if !errors.Is(err, ErrHandlerNotFound) {
							w.logger.Error("failed to process task",
								slog.String("worker_id", w.workerID),
								slog.String("error", err.Error()))
						}
					}
				}()
			default:
				w.logger.Debug("all worker slots busy, skipping tick",
					slog.String("worker_id", w.workerID))
			}
		}
	}
}

// heartbeat keeps the registry row fresh so the coordinator can tell slow
// from dead. Failures are logged, never fatal: heartbeats are an optimization.
func (w *Worker) heartbeat() {
	if w.registry == nil {
		return
	}
	if err := w.registry.Heartbeat(w.ctx, w.workerID); err != nil {
		w.logger.Warn("heartbeat failed",
			slog.String("worker_id", w.workerID),
			slog.String("error", err.Error()))
	}
}

// pullAndProcess claims a task and processes it
func (w *Worker) pullAndProcess() error {
	task, err := w.repo.Claim(w.ctx, w.workerID)
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}

	// Empty queue is normal
	if task == nil {
		return nil
	}

	w.logger.Debug("claimed task",
		slog.String("worker_id", w.workerID),
		slog.Int64("task_id", task.ID),
		slog.String("task_type", task.Type))

	return w.processTask(task)
}

// processTask executes a task with its handler
func (w *Worker) processTask(task *Task) (retErr error) {
	start := time.Now()

	// Outcome reports run on their own context: Stop cancels the polling
	// context before waiting for in-flight tasks, and a finished task must
	// still record its result during that window.
	reportCtx := context.Background()

	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				slog.String("worker_id", w.workerID),
				slog.Int64("task_id", task.ID),
				slog.String("task_type", task.Type),
				slog.Any("panic", r))
			duration := time.Since(start)
			_ = w.handleTaskFailure(reportCtx, task, retErr, duration)
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.Type]
	w.mu.RUnlock()

	if !ok {
		return w.handleMissingHandler(reportCtx, task)
	}

	// The handler context is not tied to the worker lifecycle so graceful
	// shutdown can let the task finish; it is bounded by the lease and
	// cancelled the moment the lease is lost.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	renewerDone := w.startLeaseRenewer(ctx, cancel, task.ID)

	err := handler.Handle(ctx, json.RawMessage(task.Payload))
	cancel()
	<-renewerDone

	duration := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) && errors.Is(err, context.Canceled) {
			// Lease lost mid-flight: the task already belongs to someone
			// else, so the result must be discarded, not reported.
			w.logger.Warn("lease lost while processing, discarding result",
				slog.String("worker_id", w.workerID),
				slog.Int64("task_id", task.ID))
			return nil
		}
		return w.handleTaskFailure(reportCtx, task, err, duration)
	}

	return w.handleTaskSuccess(reportCtx, task, duration)
}

// startLeaseRenewer periodically extends the lease while the handler runs.
// A rejected renewal means the lease was reclaimed: the handler context is
// cancelled so business logic can abort.
func (w *Worker) startLeaseRenewer(ctx context.Context, cancel context.CancelFunc, taskID int64) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(w.renewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewed, err := w.repo.RenewLease(ctx, taskID, w.workerID, 0)
				if err != nil {
					w.logger.Warn("lease renewal failed",
						slog.String("worker_id", w.workerID),
						slog.Int64("task_id", taskID),
						slog.String("error", err.Error()))
					continue
				}
				if !renewed {
					w.logger.Warn("lease no longer held, aborting task",
						slog.String("worker_id", w.workerID),
						slog.Int64("task_id", taskID))
					cancel()
					return
				}
			}
		}
	}()

	return done
}

// handleMissingHandler fails tasks that have no registered handler.
// Retries cannot help until a handler is deployed, so the failure is
// reported as permanent and the task stays queryable for operators.
func (w *Worker) handleMissingHandler(ctx context.Context, task *Task) error {
	w.logger.Error("no handler registered for task type",
		slog.String("worker_id", w.workerID),
		slog.Int64("task_id", task.ID),
		slog.String("task_type", task.Type))

	errorMsg := "no handler registered for task type: " + task.Type
	if err := w.repo.Fail(ctx, task.ID, w.workerID, errorMsg, false); err != nil {
		return fmt.Errorf("failed to mark task %d as failed: %w", task.ID, err)
	}

	return ErrHandlerNotFound
}

// handleTaskFailure reports a failed execution. Retryability is data, not
// control flow: handlers mark permanence with Permanent, everything else is
// retried until attempts run out.
func (w *Worker) handleTaskFailure(ctx context.Context, task *Task, execErr error, duration time.Duration) error {
	w.logger.Error("task failed",
		slog.String("worker_id", w.workerID),
		slog.Int64("task_id", task.ID),
		slog.String("task_type", task.Type),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_attempts", task.MaxAttempts),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	err := w.repo.Fail(ctx, task.ID, w.workerID, execErr.Error(), !isPermanent(execErr))
	if errors.Is(err, ErrNotTaskOwner) {
		// Lease expired and the task was reclaimed while the handler ran;
		// someone else owns it now.
		w.logger.Warn("task no longer owned, dropping failure report",
			slog.String("worker_id", w.workerID),
			slog.Int64("task_id", task.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update task %d status to failed: %w", task.ID, err)
	}

	return nil
}

// handleTaskSuccess reports successful task completion
func (w *Worker) handleTaskSuccess(ctx context.Context, task *Task, duration time.Duration) error {
	err := w.repo.Complete(ctx, task.ID, w.workerID, nil)
	if errors.Is(err, ErrNotTaskOwner) {
		w.logger.Warn("task no longer owned, dropping completion report",
			slog.String("worker_id", w.workerID),
			slog.Int64("task_id", task.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark task %d as completed: %w", task.ID, err)
	}

	w.logger.Info("task completed successfully",
		slog.String("worker_id", w.workerID),
		slog.Int64("task_id", task.ID),
		slog.String("task_type", task.Type),
		slog.Duration("duration", duration))

	return nil
}
