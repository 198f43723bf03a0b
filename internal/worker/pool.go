package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// retryableError marks an infrastructure failure (database, queue) where the
// delivery should be requeued and tried again later.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.err)
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func retryable(err error) error {
	return &retryableError{err: err}
}

// spawnPool starts the processing goroutines
func (w *Worker) spawnPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
	w.logger.Info("Worker pool started",
		slog.Int("concurrency", w.concurrency),
	)
}

// workerLoop processes tasks until the worker stops
func (w *Worker) workerLoop(ctx context.Context, id int) {
	defer w.wg.Done()

	logger := w.logger.With(slog.Int("pool_worker", id))
	logger.Debug("Pool worker started")

	for {
		select {
		case <-w.stopChan:
			logger.Debug("Pool worker stopped - stop signal")
			return

		case <-ctx.Done():
			logger.Debug("Pool worker stopped - context cancelled")
			return

		case msg, ok := <-w.tasksChan:
			if !ok {
				logger.Debug("Pool worker stopped - task channel closed")
				return
			}

			err := w.processTask(ctx, msg.Task)
			if err == nil {
				w.ack(msg.DeliveryTag)
				continue
			}

			var re *retryableError
			if errors.As(err, &re) {
				logger.Warn("Task failed on infrastructure error - requeueing",
					slog.String("transcript_id", msg.Task.TranscriptID),
					slog.String("error", err.Error()),
				)
				w.nack(msg.DeliveryTag, true)
				continue
			}

			logger.Error("Task failed - discarding",
				slog.String("transcript_id", msg.Task.TranscriptID),
				slog.String("error", err.Error()),
			)
			w.nack(msg.DeliveryTag, false)
		}
	}
}

func (w *Worker) ack(deliveryTag uint64) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		w.logger.Error("Failed to get RabbitMQ channel for ACK")
		return
	}
	if err := channel.Ack(deliveryTag, false); err != nil {
		w.logger.Error("Failed to ACK message",
			slog.Uint64("delivery_tag", deliveryTag),
			slog.String("error", err.Error()),
		)
	}
}
