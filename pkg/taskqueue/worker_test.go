package taskqueue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nomoos/prismq-queue/pkg/taskqueue"
)

func newTestWorker(t *testing.T, repo *taskqueue.Repository, opts ...taskqueue.WorkerOption) *taskqueue.Worker {
	t.Helper()

	base := []taskqueue.WorkerOption{
		taskqueue.WithPullInterval(10 * time.Millisecond),
		taskqueue.WithWorkerLogger(quietLogger()),
	}
	w, err := taskqueue.NewWorker(repo, append(base, opts...)...)
	require.NoError(t, err)
	return w
}

func waitForStatus(t *testing.T, repo *taskqueue.Repository, id int64, want taskqueue.Status) *taskqueue.Task {
	t.Helper()

	var task *taskqueue.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = repo.GetTask(context.Background(), id)
		require.NoError(t, err)
		return task.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task %d never reached %s", id, want)
	return task
}

func TestNewWorker(t *testing.T) {
	t.Run("nil repository error", func(t *testing.T) {
		w, err := taskqueue.NewWorker(nil)
		assert.ErrorIs(t, err, taskqueue.ErrRepositoryNil)
		assert.Nil(t, w)
	})

	t.Run("generates a worker id", func(t *testing.T) {
		w := newTestWorker(t, newTestRepo(t))
		assert.NotEmpty(t, w.WorkerID())
	})

	t.Run("custom worker id", func(t *testing.T) {
		w := newTestWorker(t, newTestRepo(t), taskqueue.WithWorkerID("render-node-1"))
		assert.Equal(t, "render-node-1", w.WorkerID())
	})
}

func TestWorker_Lifecycle(t *testing.T) {
	t.Run("start requires handlers", func(t *testing.T) {
		w := newTestWorker(t, newTestRepo(t))
		assert.ErrorIs(t, w.Start(context.Background()), taskqueue.ErrNoHandlers)
	})

	t.Run("double start rejected", func(t *testing.T) {
		w := newTestWorker(t, newTestRepo(t))
		require.NoError(t, w.RegisterHandler(taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			return nil
		})))

		require.NoError(t, w.Start(context.Background()))
		defer func() { require.NoError(t, w.Stop()) }()

		assert.Error(t, w.Start(context.Background()))
	})

	t.Run("stop before start rejected", func(t *testing.T) {
		w := newTestWorker(t, newTestRepo(t))
		assert.Error(t, w.Stop())
	})
}

func TestWorker_Processing(t *testing.T) {
	ctx := context.Background()

	t.Run("processes a task to completion", func(t *testing.T) {
		repo := newTestRepo(t)
		enq := newTestEnqueuer(t, repo)

		var handled atomic.Int32
		w := newTestWorker(t, repo)
		require.NoError(t, w.RegisterHandler(taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			handled.Add(1)
			return nil
		})))

		id, err := enq.Enqueue(ctx, renderVideo{ChannelID: "UC1"})
		require.NoError(t, err)

		require.NoError(t, w.Start(ctx))
		defer func() { require.NoError(t, w.Stop()) }()

		task := waitForStatus(t, repo, id, taskqueue.StatusCompleted)
		assert.Equal(t, int32(1), handled.Load())
		assert.Empty(t, task.LockedBy)
		require.NotNil(t, task.FinishedAt)
	})

	t.Run("graceful stop records the in-flight result", func(t *testing.T) {
		repo := newTestRepo(t)
		enq := newTestEnqueuer(t, repo)

		started := make(chan struct{})
		w := newTestWorker(t, repo)
		require.NoError(t, w.RegisterHandler(taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			close(started)
			time.Sleep(200 * time.Millisecond)
			return nil
		})))

		id, err := enq.Enqueue(ctx, renderVideo{})
		require.NoError(t, err)

		require.NoError(t, w.Start(ctx))
		<-started

		// Stop waits for the handler and its outcome report, so the task
		// must be completed the moment Stop returns.
		require.NoError(t, w.Stop())

		task, err := repo.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, taskqueue.StatusCompleted, task.Status)
		assert.Empty(t, task.LockedBy)
	})

	t.Run("retryable handler error exhausts attempts into failed", func(t *testing.T) {
		repo := newTestRepo(t, taskqueue.WithBackoffFunc(zeroBackoff))
		enq := newTestEnqueuer(t, repo)

		var calls atomic.Int32
		w := newTestWorker(t, repo)
		require.NoError(t, w.RegisterHandler(taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			calls.Add(1)
			return errors.New("encoder unavailable")
		})))

		id, err := enq.Enqueue(ctx, renderVideo{}, taskqueue.WithMaxAttempts(2))
		require.NoError(t, err)

		require.NoError(t, w.Start(ctx))
		defer func() { require.NoError(t, w.Stop()) }()

		task := waitForStatus(t, repo, id, taskqueue.StatusFailed)
		assert.Equal(t, 2, task.Attempts)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, "encoder unavailable", task.ErrorMessage)
	})

	t.Run("permanent handler error skips retries", func(t *testing.T) {
		repo := newTestRepo(t, taskqueue.WithBackoffFunc(zeroBackoff))
		enq := newTestEnqueuer(t, repo)

		var calls atomic.Int32
		w := newTestWorker(t, repo)
		require.NoError(t, w.RegisterHandler(taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			calls.Add(1)
			return taskqueue.Permanent(errors.New("malformed manifest"))
		})))

		id, err := enq.Enqueue(ctx, renderVideo{}, taskqueue.WithMaxAttempts(5))
		require.NoError(t, err)

		require.NoError(t, w.Start(ctx))
		defer func() { require.NoError(t, w.Stop()) }()

		task := waitForStatus(t, repo, id, taskqueue.StatusFailed)
		assert.Equal(t, 1, task.Attempts)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("handler panic is recovered and reported as failure", func(t *testing.T) {
		repo := newTestRepo(t, taskqueue.WithBackoffFunc(zeroBackoff))
		enq := newTestEnqueuer(t, repo)

		w := newTestWorker(t, repo)
		require.NoError(t, w.RegisterHandler(taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			panic("division by zero somewhere deep")
		})))

		id, err := enq.Enqueue(ctx, renderVideo{}, taskqueue.WithMaxAttempts(1))
		require.NoError(t, err)

		require.NoError(t, w.Start(ctx))
		defer func() { require.NoError(t, w.Stop()) }()

		task := waitForStatus(t, repo, id, taskqueue.StatusFailed)
		assert.Contains(t, task.ErrorMessage, "panic in handler")
	})

	t.Run("missing handler fails the task permanently", func(t *testing.T) {
		repo := newTestRepo(t)
		w := newTestWorker(t, repo)
		require.NoError(t, w.RegisterHandler(taskqueue.NewNamedTaskHandler("known", func(ctx context.Context, p renderVideo) error {
			return nil
		})))

		id, err := repo.Enqueue(ctx, taskqueue.EnqueueParams{Type: "unknown"})
		require.NoError(t, err)

		require.NoError(t, w.Start(ctx))
		defer func() { require.NoError(t, w.Stop()) }()

		task := waitForStatus(t, repo, id, taskqueue.StatusFailed)
		assert.Contains(t, task.ErrorMessage, "no handler registered")
	})

	t.Run("malformed payload is not retried", func(t *testing.T) {
		repo := newTestRepo(t, taskqueue.WithBackoffFunc(zeroBackoff))

		var calls atomic.Int32
		w := newTestWorker(t, repo)
		require.NoError(t, w.RegisterHandler(taskqueue.NewNamedTaskHandler("video.render", func(ctx context.Context, p renderVideo) error {
			calls.Add(1)
			return nil
		})))

		id, err := repo.Enqueue(ctx, taskqueue.EnqueueParams{
			Type:    "video.render",
			Payload: []byte(`{"channel_id": 12`),
		})
		require.NoError(t, err)

		require.NoError(t, w.Start(ctx))
		defer func() { require.NoError(t, w.Stop()) }()

		task := waitForStatus(t, repo, id, taskqueue.StatusFailed)
		assert.Equal(t, 1, task.Attempts)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("concurrent workers split the backlog without overlap", func(t *testing.T) {
		repo := newTestRepo(t)
		enq := newTestEnqueuer(t, repo)

		var processed atomic.Int32
		handler := func(ctx context.Context, p renderVideo) error {
			processed.Add(1)
			return nil
		}

		w1 := newTestWorker(t, repo, taskqueue.WithWorkerID("w1"), taskqueue.WithMaxConcurrentTasks(2))
		w2 := newTestWorker(t, repo, taskqueue.WithWorkerID("w2"), taskqueue.WithMaxConcurrentTasks(2))
		require.NoError(t, w1.RegisterHandler(taskqueue.NewTaskHandler(handler)))
		require.NoError(t, w2.RegisterHandler(taskqueue.NewTaskHandler(handler)))

		const total = 10
		ids := make([]int64, 0, total)
		for i := 0; i < total; i++ {
			id, err := enq.Enqueue(ctx, renderVideo{})
			require.NoError(t, err)
			ids = append(ids, id)
		}

		require.NoError(t, w1.Start(ctx))
		require.NoError(t, w2.Start(ctx))
		defer func() {
			require.NoError(t, w1.Stop())
			require.NoError(t, w2.Stop())
		}()

		for _, id := range ids {
			waitForStatus(t, repo, id, taskqueue.StatusCompleted)
		}
		assert.Equal(t, int32(total), processed.Load())
	})
}

func TestWorker_Registry(t *testing.T) {
	ctx := context.Background()

	t.Run("start registers the worker identity", func(t *testing.T) {
		db := newTestDB(t)
		repo, err := taskqueue.NewRepository(db)
		require.NoError(t, err)
		registry, err := taskqueue.NewWorkerRegistry(db)
		require.NoError(t, err)

		w := newTestWorker(t, repo,
			taskqueue.WithWorkerID("render-node-1"),
			taskqueue.WithRegistry(registry),
			taskqueue.WithCapabilities([]byte(`{"gpu":true}`)),
		)
		require.NoError(t, w.RegisterHandler(taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			return nil
		})))

		require.NoError(t, w.Start(ctx))
		defer func() { require.NoError(t, w.Stop()) }()

		workers, err := registry.Workers(ctx)
		require.NoError(t, err)
		require.Len(t, workers, 1)
		assert.Equal(t, "render-node-1", workers[0].WorkerID)
		assert.JSONEq(t, `{"gpu":true}`, string(workers[0].Capabilities))
	})
}
