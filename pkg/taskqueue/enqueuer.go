package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Enqueuer is the producer-side facade: it marshals typed payloads, derives
// the task type from the payload struct when none is given, and hands the
// result to the repository.
type Enqueuer struct {
	repo               *Repository
	defaultPriority    int
	defaultMaxAttempts int
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(repo *Repository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultPriority:    PriorityDefault,
		defaultMaxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:               repo,
		defaultPriority:    options.defaultPriority,
		defaultMaxAttempts: options.defaultMaxAttempts,
	}, nil
}

// Enqueue adds a new task to the queue and returns its id. Enqueuing twice
// with the same idempotency key returns ErrDuplicateTask for the second call,
// so producer retries are safe.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (int64, error) {
	if payload == nil {
		return 0, ErrPayloadNil
	}

	options := &enqueueOptions{
		priority:    e.defaultPriority,
		maxAttempts: e.defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: payload of type %T: %w", ErrPayloadMarshal, payload, err)
	}

	taskType := options.taskType
	if taskType == "" {
		taskType = qualifiedStructName(payload)
	}

	runAfter := e.repo.now()
	if options.runAt != nil {
		runAfter = *options.runAt
	} else if options.delay > 0 {
		runAfter = runAfter.Add(options.delay)
	}

	var compatibility []byte
	if options.compatibility != nil {
		if compatibility, err = json.Marshal(options.compatibility); err != nil {
			return 0, fmt.Errorf("%w: compatibility of type %T: %w", ErrPayloadMarshal, options.compatibility, err)
		}
	}

	id, err := e.repo.Enqueue(ctx, EnqueueParams{
		Type:           taskType,
		Payload:        payloadBytes,
		Compatibility:  compatibility,
		Priority:       options.priority,
		RunAfter:       runAfter,
		IdempotencyKey: options.idempotencyKey,
		MaxAttempts:    options.maxAttempts,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
