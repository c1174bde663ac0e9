// Package taskqueue provides a persistent, leased task queue over a
// single-file SQLite store. Many independent worker processes pull work from
// the same store with exactly-once-effective claiming, crash recovery through
// time-bound leases, bounded retry with exponential backoff, idempotent
// enqueue, and an audit trail of every state transition, all without a
// broker process.
//
// The package is organised around five cooperating components:
//
//   - Repository: typed state-machine operations over persisted tasks
//     (Enqueue, Claim, RenewLease, Complete, Fail, ReclaimExpiredLeases)
//   - Strategy: pluggable ORDER BY policies deciding which eligible
//     task a claim returns (fifo, lifo, priority, weighted-random)
//   - Coordinator: periodic sweep reclaiming expired leases and purging
//     finished tasks past retention
//   - WorkerRegistry: worker identities and heartbeats, letting the
//     coordinator tell slow workers from dead ones
//   - Enqueuer and Worker: producer and consumer facades for embedding
//
// # Claiming
//
// Claim selects the single best eligible task and flips it to processing in
// one immediate-mode transaction, so the write lock is held from BEGIN and no
// two claimers can ever receive the same row. Concurrency is storage-level,
// never in-memory, because claimers may be separate OS processes.
//
// # Leases and crash recovery
//
// A claim grants a time-bound lease. Workers renew explicitly while they
// work; the queue never extends a lease automatically. A worker that crashes
// stops renewing, its lease expires, and the coordinator's sweep routes the
// task through the same retry-or-permanently-fail decision as an ordinary
// failure. This yields at-least-once execution: handlers must be idempotent
// if duplicate effects matter.
//
// # Usage
//
//	db, _ := sqlitedb.Connect(ctx, dbCfg)
//	_ = sqlitedb.Migrate(ctx, db, dbCfg, slog.Default())
//
//	repo, _ := taskqueue.NewRepository(db,
//	    taskqueue.WithStrategy(mustStrategy(taskqueue.StrategyFIFO)),
//	    taskqueue.WithLeaseDuration(5*time.Minute),
//	)
//
//	enq, _ := taskqueue.NewEnqueuer(repo)
//	id, err := enq.Enqueue(ctx, ScrapeChannel{ChannelID: "UC123"},
//	    taskqueue.WithIdempotencyKey("scrape:UC123:2024-06-01"),
//	)
//
//	w, _ := taskqueue.NewWorker(repo)
//	_ = w.RegisterHandler(taskqueue.NewTaskHandler(handleScrape))
//	_ = w.Start(ctx)
//
// # Error Handling
//
// Package-level sentinel errors (ErrDuplicateTask, ErrNotTaskOwner, ...)
// signal violations of queue invariants and are checked with errors.Is.
// Retry decisions are data, not stack unwinding: a duplicate enqueue is an
// expected producer outcome, and ErrNotTaskOwner tells a worker its lease was
// reclaimed and the in-flight result must be discarded.
package taskqueue
