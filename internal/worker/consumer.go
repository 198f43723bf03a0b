package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ytscriptify/transcriber/internal/domain"
)

// setupConsumer configures QoS and starts consuming from the work queue
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// Prefetch bounds the number of unacknowledged tasks per consumer so a
	// slow worker cannot starve the rest of the pool.
	if err := channel.Qos(w.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("worker_id", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// dispatchDeliveries parses AMQP deliveries into tasks and hands them to the
// pool. Malformed messages are nacked without requeue.
func (w *Worker) dispatchDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Task dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Task dispatcher stopped - context cancelled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var task domain.TaskMessage
			if err := json.Unmarshal(delivery.Body, &task); err != nil {
				w.logger.Error("Failed to parse task JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				w.nack(delivery.DeliveryTag, false)
				continue
			}

			if _, err := uuid.Parse(task.TranscriptID); err != nil {
				w.logger.Error("Invalid transcript_id in task - not a UUID",
					slog.String("transcript_id", task.TranscriptID),
				)
				w.nack(delivery.DeliveryTag, false)
				continue
			}

			msg := &taskDelivery{Task: task, DeliveryTag: delivery.DeliveryTag}

			select {
			case w.tasksChan <- msg:
				w.logger.Debug("Task dispatched to pool",
					slog.String("transcript_id", task.TranscriptID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Task dispatcher stopped while dispatching")
				// Requeue so another worker picks it up.
				w.nack(delivery.DeliveryTag, true)
				return
			}
		}
	}
}

func (w *Worker) nack(deliveryTag uint64, requeue bool) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		w.logger.Error("Failed to get RabbitMQ channel for NACK")
		return
	}
	if err := channel.Nack(deliveryTag, false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", deliveryTag),
			slog.String("error", err.Error()),
		)
	}
}
