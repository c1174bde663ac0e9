package taskqueue

import (
	"context"
	"encoding/json"
)

type (
	// Handler processes claimed tasks of one type.
	Handler interface {
		Type() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	TaskHandlerFunc[T any] func(ctx context.Context, payload T) error
)

// NewTaskHandler adapts a typed function into a Handler; the task type is
// derived from the payload struct name, matching what Enqueuer produces.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	var payload T
	return &typedTaskHandler[T]{
		taskType: qualifiedStructName(payload),
		handler:  handler,
	}
}

// NewNamedTaskHandler adapts a typed function into a Handler for an explicit
// task type.
func NewNamedTaskHandler[T any](taskType string, handler TaskHandlerFunc[T]) Handler {
	return &typedTaskHandler[T]{
		taskType: taskType,
		handler:  handler,
	}
}

type typedTaskHandler[T any] struct {
	taskType string
	handler  TaskHandlerFunc[T]
}

func (h *typedTaskHandler[T]) Type() string {
	return h.taskType
}

func (h *typedTaskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	// Tasks enqueued without a payload carry none at all; the handler gets
	// the zero value instead of a decode error.
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t); err != nil {
			return Permanent(err)
		}
	}
	return h.handler(ctx, t)
}
