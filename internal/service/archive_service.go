package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/studio/internal/model"
)

// ArchiveQueue is the asynq queue archive tasks run on.
const ArchiveQueue = "archive"

// TaskEnqueuer is the part of *asynq.Client the archiver needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqArchiver enqueues asset:archive tasks.
type AsynqArchiver struct {
	client TaskEnqueuer
}

func NewAsynqArchiver(client TaskEnqueuer) *AsynqArchiver {
	return &AsynqArchiver{client: client}
}

// Archive enqueues one task per provider task ID. A task already queued for
// the same ID is not an error.
func (a *AsynqArchiver) Archive(ctx context.Context, payload model.ArchiveJobPayload) error {
	task, err := NewArchiveTask(payload)
	if err != nil {
		return err
	}

	_, err = a.client.EnqueueContext(ctx, task,
		asynq.Queue(ArchiveQueue),
		asynq.TaskID(string(payload.ProviderKind)+":"+payload.TaskID),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// NewArchiveTask builds the asynq task for payload.
func NewArchiveTask(payload model.ArchiveJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(model.TaskTypeArchive, data), nil
}
