package taskqueue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nomoos/prismq-queue/pkg/taskqueue"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewCoordinator(t *testing.T) {
	t.Run("nil repository error", func(t *testing.T) {
		c, err := taskqueue.NewCoordinator(nil)
		assert.ErrorIs(t, err, taskqueue.ErrRepositoryNil)
		assert.Nil(t, c)
	})
}

func TestCoordinator_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("without registry reclaims every expired lease", func(t *testing.T) {
		repo := newTestRepo(t,
			taskqueue.WithLeaseDuration(10*time.Millisecond),
			taskqueue.WithBackoffFunc(zeroBackoff),
		)
		for i := 0; i < 3; i++ {
			enqueueType(t, repo, "x")
			_, err := repo.Claim(ctx, "w1")
			require.NoError(t, err)
		}

		time.Sleep(30 * time.Millisecond)

		c, err := taskqueue.NewCoordinator(repo, taskqueue.WithCoordinatorLogger(quietLogger()))
		require.NoError(t, err)

		reclaimed, err := c.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, reclaimed)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats[taskqueue.StatusQueued])
	})

	t.Run("with registry defers leases of heartbeating workers", func(t *testing.T) {
		db := newTestDB(t)
		repo, err := taskqueue.NewRepository(db,
			taskqueue.WithLeaseDuration(10*time.Millisecond),
			taskqueue.WithBackoffFunc(zeroBackoff),
		)
		require.NoError(t, err)
		registry, err := taskqueue.NewWorkerRegistry(db)
		require.NoError(t, err)

		slow := enqueueType(t, repo, "slow")
		dead := enqueueType(t, repo, "dead")

		claimAs := func(workerID string) {
			task, err := repo.Claim(ctx, workerID)
			require.NoError(t, err)
			require.NotNil(t, task)
		}
		claimAs("slow-worker")
		claimAs("dead-worker")

		time.Sleep(30 * time.Millisecond)

		// slow-worker still heartbeats; dead-worker never registered.
		require.NoError(t, registry.Heartbeat(ctx, "slow-worker"))

		c, err := taskqueue.NewCoordinator(repo,
			taskqueue.WithWorkerRegistry(registry),
			taskqueue.WithStaleWorkerAfter(time.Minute),
			taskqueue.WithCoordinatorLogger(quietLogger()),
		)
		require.NoError(t, err)

		reclaimed, err := c.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, reclaimed)

		slowTask, err := repo.GetTask(ctx, slow)
		require.NoError(t, err)
		assert.Equal(t, taskqueue.StatusProcessing, slowTask.Status)

		deadTask, err := repo.GetTask(ctx, dead)
		require.NoError(t, err)
		assert.Equal(t, taskqueue.StatusQueued, deadTask.Status)
	})

	t.Run("stale heartbeat does not defer", func(t *testing.T) {
		db := newTestDB(t)
		repo, err := taskqueue.NewRepository(db,
			taskqueue.WithLeaseDuration(10*time.Millisecond),
			taskqueue.WithBackoffFunc(zeroBackoff),
		)
		require.NoError(t, err)
		registry, err := taskqueue.NewWorkerRegistry(db)
		require.NoError(t, err)

		enqueueType(t, repo, "x")
		require.NoError(t, registry.Register(ctx, "w1", nil))
		_, err = repo.Claim(ctx, "w1")
		require.NoError(t, err)

		time.Sleep(30 * time.Millisecond)

		c, err := taskqueue.NewCoordinator(repo,
			taskqueue.WithWorkerRegistry(registry),
			taskqueue.WithStaleWorkerAfter(5*time.Millisecond),
			taskqueue.WithCoordinatorLogger(quietLogger()),
		)
		require.NoError(t, err)

		reclaimed, err := c.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, reclaimed)
	})
}

func TestCoordinator_Start(t *testing.T) {
	t.Run("sweeps immediately and stops on cancel", func(t *testing.T) {
		ctx := context.Background()
		repo := newTestRepo(t,
			taskqueue.WithLeaseDuration(10*time.Millisecond),
			taskqueue.WithBackoffFunc(zeroBackoff),
		)
		id := enqueueType(t, repo, "x")
		_, err := repo.Claim(ctx, "w1")
		require.NoError(t, err)

		time.Sleep(30 * time.Millisecond)

		// A long interval proves the first sweep does not wait for a tick.
		c, err := taskqueue.NewCoordinator(repo,
			taskqueue.WithSweepInterval(time.Hour),
			taskqueue.WithCoordinatorLogger(quietLogger()),
		)
		require.NoError(t, err)

		runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		err = c.Start(runCtx)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))

		task, err := repo.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, taskqueue.StatusQueued, task.Status)
	})

	t.Run("retention purge runs with the sweep", func(t *testing.T) {
		ctx := context.Background()
		repo := newTestRepo(t)

		id := enqueueType(t, repo, "x")
		_, err := repo.Claim(ctx, "w1")
		require.NoError(t, err)
		require.NoError(t, repo.Complete(ctx, id, "w1", nil))

		time.Sleep(20 * time.Millisecond)

		c, err := taskqueue.NewCoordinator(repo,
			taskqueue.WithSweepInterval(time.Hour),
			taskqueue.WithRetention(5*time.Millisecond),
			taskqueue.WithCoordinatorLogger(quietLogger()),
		)
		require.NoError(t, err)

		runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		_ = c.Start(runCtx)

		_, err = repo.GetTask(ctx, id)
		assert.ErrorIs(t, err, taskqueue.ErrTaskNotFound)
	})
}
