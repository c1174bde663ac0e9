// Command queuectl is the maintenance tool for the queue store: it enqueues
// and inspects tasks, drives the lease/retry lifecycle by hand, and runs the
// reclaim and retention sweeps that normally live in an embedding process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nomoos/prismq-queue/pkg/config"
	"github.com/Nomoos/prismq-queue/pkg/logger"
	"github.com/Nomoos/prismq-queue/pkg/sqlitedb"
	"github.com/Nomoos/prismq-queue/pkg/taskqueue"
)

const usage = `Usage: queuectl <command> [flags]

Commands:
  enqueue    add a task to the queue
  claim      claim the next eligible task
  complete   mark a claimed task as completed
  fail       report a failed execution
  renew      extend the lease on a claimed task
  reclaim    reclaim expired leases once
  sweep      run the coordinator loop until interrupted
  purge      delete finished tasks older than a retention age
  stats      print task counts per status
  workers    list registered workers
  audit      print the audit trail of a task
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.New(logger.WithConfig(logCfg))
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], log); err != nil {
		log.Error("command failed", slog.String("command", os.Args[1]), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, log *slog.Logger) error {
	var dbCfg sqlitedb.Config
	config.MustLoad(&dbCfg)

	var queueCfg taskqueue.Config
	config.MustLoad(&queueCfg)

	db, err := sqlitedb.Connect(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlitedb.Migrate(ctx, db, dbCfg, log); err != nil {
		return err
	}

	strategy, err := taskqueue.StrategyByName(queueCfg.Strategy)
	if err != nil {
		return err
	}

	repo, err := taskqueue.NewRepository(db,
		taskqueue.WithStrategy(strategy),
		taskqueue.WithLeaseDuration(queueCfg.LeaseDuration),
	)
	if err != nil {
		return err
	}

	registry, err := taskqueue.NewWorkerRegistry(db)
	if err != nil {
		return err
	}

	switch command {
	case "enqueue":
		return cmdEnqueue(ctx, repo, args)
	case "claim":
		return cmdClaim(ctx, repo, args)
	case "complete":
		return cmdComplete(ctx, repo, args)
	case "fail":
		return cmdFail(ctx, repo, args)
	case "renew":
		return cmdRenew(ctx, repo, args)
	case "reclaim":
		return cmdReclaim(ctx, repo)
	case "sweep":
		return cmdSweep(ctx, repo, registry, queueCfg, log)
	case "purge":
		return cmdPurge(ctx, repo, args)
	case "stats":
		return cmdStats(ctx, repo)
	case "workers":
		return cmdWorkers(ctx, registry)
	case "audit":
		return cmdAudit(ctx, repo, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdEnqueue(ctx context.Context, repo *taskqueue.Repository, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	taskType := fs.String("type", "", "task type (required)")
	payload := fs.String("payload", "", "JSON payload")
	priority := fs.Int("priority", taskqueue.PriorityDefault, "priority, 0 is most urgent")
	maxAttempts := fs.Int("max-attempts", taskqueue.DefaultMaxAttempts, "maximum execution attempts")
	key := fs.String("key", "", "idempotency key")
	delay := fs.Duration("delay", 0, "delay before the task becomes claimable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := taskqueue.EnqueueParams{
		Type:           *taskType,
		Payload:        []byte(*payload),
		Priority:       *priority,
		MaxAttempts:    *maxAttempts,
		IdempotencyKey: *key,
	}
	if *delay > 0 {
		params.RunAfter = time.Now().Add(*delay)
	}

	id, err := repo.Enqueue(ctx, params)
	if errors.Is(err, taskqueue.ErrDuplicateTask) {
		fmt.Printf("duplicate: a task with key %q already exists\n", *key)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("enqueued task %d\n", id)
	return nil
}

func cmdClaim(ctx context.Context, repo *taskqueue.Repository, args []string) error {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	workerID := fs.String("worker", "", "worker id (required)")
	strategyName := fs.String("strategy", "", "override the configured claiming strategy")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		task *taskqueue.Task
		err  error
	)
	if *strategyName != "" {
		strategy, serr := taskqueue.StrategyByName(*strategyName)
		if serr != nil {
			return serr
		}
		task, err = repo.ClaimWith(ctx, *workerID, strategy)
	} else {
		task, err = repo.Claim(ctx, *workerID)
	}
	if err != nil {
		return err
	}
	if task == nil {
		fmt.Println("no eligible task")
		return nil
	}

	return printJSON(task)
}

func cmdComplete(ctx context.Context, repo *taskqueue.Repository, args []string) error {
	fs := flag.NewFlagSet("complete", flag.ExitOnError)
	id := fs.Int64("id", 0, "task id (required)")
	workerID := fs.String("worker", "", "worker id (required)")
	result := fs.String("result", "", "JSON result recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := repo.Complete(ctx, *id, *workerID, []byte(*result)); err != nil {
		return err
	}
	fmt.Printf("completed task %d\n", *id)
	return nil
}

func cmdFail(ctx context.Context, repo *taskqueue.Repository, args []string) error {
	fs := flag.NewFlagSet("fail", flag.ExitOnError)
	id := fs.Int64("id", 0, "task id (required)")
	workerID := fs.String("worker", "", "worker id (required)")
	errMsg := fs.String("error", "failed via queuectl", "failure reason")
	permanent := fs.Bool("permanent", false, "skip retries and fail terminally")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := repo.Fail(ctx, *id, *workerID, *errMsg, !*permanent); err != nil {
		return err
	}
	fmt.Printf("failed task %d\n", *id)
	return nil
}

func cmdRenew(ctx context.Context, repo *taskqueue.Repository, args []string) error {
	fs := flag.NewFlagSet("renew", flag.ExitOnError)
	id := fs.Int64("id", 0, "task id (required)")
	workerID := fs.String("worker", "", "worker id (required)")
	extension := fs.Duration("extension", 0, "lease extension, defaults to the configured lease duration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	renewed, err := repo.RenewLease(ctx, *id, *workerID, *extension)
	if err != nil {
		return err
	}
	if !renewed {
		fmt.Printf("lease on task %d is no longer held by %s\n", *id, *workerID)
		return nil
	}
	fmt.Printf("renewed lease on task %d\n", *id)
	return nil
}

func cmdReclaim(ctx context.Context, repo *taskqueue.Repository) error {
	count, err := repo.ReclaimExpiredLeases(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("reclaimed %d expired leases\n", count)
	return nil
}

func cmdSweep(ctx context.Context, repo *taskqueue.Repository, registry *taskqueue.WorkerRegistry, cfg taskqueue.Config, log *slog.Logger) error {
	opts := []taskqueue.CoordinatorOption{
		taskqueue.WithSweepInterval(cfg.SweepInterval),
		taskqueue.WithWorkerRegistry(registry),
		taskqueue.WithStaleWorkerAfter(cfg.StaleWorker),
		taskqueue.WithCoordinatorLogger(log),
	}
	if cfg.Retention > 0 {
		opts = append(opts, taskqueue.WithRetention(cfg.Retention))
	}

	coordinator, err := taskqueue.NewCoordinator(repo, opts...)
	if err != nil {
		return err
	}

	if err := coordinator.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func cmdPurge(ctx context.Context, repo *taskqueue.Repository, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	olderThan := fs.Duration("older-than", 7*24*time.Hour, "retention age for finished tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	purged, err := repo.PurgeFinished(ctx, *olderThan)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d finished tasks\n", purged)
	return nil
}

func cmdStats(ctx context.Context, repo *taskqueue.Repository) error {
	stats, err := repo.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func cmdWorkers(ctx context.Context, registry *taskqueue.WorkerRegistry) error {
	workers, err := registry.Workers(ctx)
	if err != nil {
		return err
	}
	return printJSON(workers)
}

func cmdAudit(ctx context.Context, repo *taskqueue.Repository, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	id := fs.Int64("id", 0, "task id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := repo.AuditTrail(ctx, *id)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
