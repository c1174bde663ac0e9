package taskqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nomoos/prismq-queue/pkg/taskqueue"
)

func TestNewTaskHandler(t *testing.T) {
	t.Run("derives type from payload struct", func(t *testing.T) {
		h := taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			return nil
		})
		assert.Equal(t, "taskqueue_test.renderVideo", h.Type())
	})

	t.Run("decodes payload", func(t *testing.T) {
		var got renderVideo
		h := taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			got = p
			return nil
		})

		err := h.Handle(context.Background(), json.RawMessage(`{"channel_id":"UC1","title":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, renderVideo{ChannelID: "UC1", Title: "x"}, got)
	})

	t.Run("missing payload decodes to the zero value", func(t *testing.T) {
		var got renderVideo
		called := false
		h := taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			called = true
			got = p
			return nil
		})

		err := h.Handle(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, renderVideo{}, got)
	})

	t.Run("propagates handler error", func(t *testing.T) {
		sentinel := errors.New("render failed")
		h := taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			return sentinel
		})

		err := h.Handle(context.Background(), json.RawMessage(`{}`))
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("malformed payload fails without invoking the handler", func(t *testing.T) {
		called := false
		h := taskqueue.NewTaskHandler(func(ctx context.Context, p renderVideo) error {
			called = true
			return nil
		})

		err := h.Handle(context.Background(), json.RawMessage(`not json`))
		require.Error(t, err)
		assert.False(t, called)
	})
}

func TestNewNamedTaskHandler(t *testing.T) {
	h := taskqueue.NewNamedTaskHandler("video.render", func(ctx context.Context, p renderVideo) error {
		return nil
	})
	assert.Equal(t, "video.render", h.Type())
}
