package taskqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nomoos/prismq-queue/pkg/taskqueue"
)

func newTestRegistry(t *testing.T) *taskqueue.WorkerRegistry {
	t.Helper()

	registry, err := taskqueue.NewWorkerRegistry(newTestDB(t))
	require.NoError(t, err)
	return registry
}

func TestWorkerRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("nil store error", func(t *testing.T) {
		registry, err := taskqueue.NewWorkerRegistry(nil)
		assert.ErrorIs(t, err, taskqueue.ErrStoreNil)
		assert.Nil(t, registry)
	})

	t.Run("register and list", func(t *testing.T) {
		registry := newTestRegistry(t)

		require.NoError(t, registry.Register(ctx, "w1", []byte(`{"max_tasks":4}`)))

		workers, err := registry.Workers(ctx)
		require.NoError(t, err)
		require.Len(t, workers, 1)
		assert.Equal(t, "w1", workers[0].WorkerID)
		assert.JSONEq(t, `{"max_tasks":4}`, string(workers[0].Capabilities))
		assert.False(t, workers[0].LastHeartbeat.IsZero())
	})

	t.Run("register is an upsert", func(t *testing.T) {
		registry := newTestRegistry(t)

		require.NoError(t, registry.Register(ctx, "w1", []byte(`{"v":1}`)))
		require.NoError(t, registry.Register(ctx, "w1", []byte(`{"v":2}`)))

		workers, err := registry.Workers(ctx)
		require.NoError(t, err)
		require.Len(t, workers, 1)
		assert.JSONEq(t, `{"v":2}`, string(workers[0].Capabilities))
	})

	t.Run("empty worker id rejected", func(t *testing.T) {
		registry := newTestRegistry(t)

		assert.ErrorIs(t, registry.Register(ctx, "", nil), taskqueue.ErrWorkerIDRequired)
		assert.ErrorIs(t, registry.Heartbeat(ctx, ""), taskqueue.ErrWorkerIDRequired)
	})

	t.Run("heartbeat creates the row when needed", func(t *testing.T) {
		registry := newTestRegistry(t)

		require.NoError(t, registry.Heartbeat(ctx, "wandering"))

		alive, err := registry.IsAlive(ctx, "wandering", time.Minute)
		require.NoError(t, err)
		assert.True(t, alive)
	})

	t.Run("heartbeat refreshes liveness", func(t *testing.T) {
		registry := newTestRegistry(t)

		require.NoError(t, registry.Register(ctx, "w1", nil))
		time.Sleep(20 * time.Millisecond)

		alive, err := registry.IsAlive(ctx, "w1", 5*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, alive)

		require.NoError(t, registry.Heartbeat(ctx, "w1"))

		alive, err = registry.IsAlive(ctx, "w1", 5*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, alive)
	})

	t.Run("unknown worker is not alive", func(t *testing.T) {
		registry := newTestRegistry(t)

		alive, err := registry.IsAlive(ctx, "ghost", time.Hour)
		require.NoError(t, err)
		assert.False(t, alive)
	})

	t.Run("anonymous holder is not alive", func(t *testing.T) {
		registry := newTestRegistry(t)

		alive, err := registry.IsAlive(ctx, "", time.Hour)
		require.NoError(t, err)
		assert.False(t, alive)
	})
}
