package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ytscriptify/transcriber/internal/domain"
	"github.com/ytscriptify/transcriber/shared/rabbitmq"
)

const contentTypeJSON = "application/json"

// TaskQueue publishes transcript tasks to RabbitMQ. Publish failures are
// retried by the underlying client; what comes back here is already final
// and surfaces as a QueueDeliveryError.
type TaskQueue struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewTaskQueue creates a TaskQueue on top of the shared RabbitMQ client
func NewTaskQueue(client *rabbitmq.Client, logger *slog.Logger) *TaskQueue {
	return &TaskQueue{
		client: client,
		logger: logger,
	}
}

// PublishTask enqueues a task for immediate delivery
func (q *TaskQueue) PublishTask(ctx context.Context, task domain.TaskMessage) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.client.PublishWithRetry(ctx, body, contentTypeJSON); err != nil {
		return &domain.QueueDeliveryError{Err: err}
	}

	q.logger.Debug("Task published",
		slog.String("job_id", task.JobID),
		slog.String("transcript_id", task.TranscriptID),
		slog.Int("attempt", task.Attempt),
	)

	return nil
}

// PublishTaskWithDelay parks a retry task in the wait queue so it reappears
// on the work queue after roughly the given delay.
func (q *TaskQueue) PublishTaskWithDelay(ctx context.Context, task domain.TaskMessage, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.client.PublishWithDelay(ctx, body, contentTypeJSON, delay); err != nil {
		return &domain.QueueDeliveryError{Err: err}
	}

	q.logger.Debug("Delayed task published",
		slog.String("job_id", task.JobID),
		slog.String("transcript_id", task.TranscriptID),
		slog.Int("attempt", task.Attempt),
		slog.Duration("delay", delay),
	)

	return nil
}
