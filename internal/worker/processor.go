package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ytscriptify/transcriber/internal/domain"
)

// processTask runs a single transcript fetch attempt. A nil return means the
// delivery can be acked: the transcript reached a terminal state, the task
// was a stale redelivery, or a retry was scheduled on the delay queue.
// A retryableError return means an infrastructure failure and the delivery
// should be requeued as-is.
func (w *Worker) processTask(ctx context.Context, task domain.TaskMessage) error {
	logger := w.logger.With(
		slog.String("job_id", task.JobID),
		slog.String("transcript_id", task.TranscriptID),
		slog.Int("attempt", task.Attempt),
	)

	transcript, err := w.store.GetTranscript(ctx, task.TranscriptID)
	if err != nil {
		if errors.Is(err, domain.ErrTranscriptNotFound) {
			logger.Warn("Transcript not found - discarding task")
			return nil
		}
		return retryable(fmt.Errorf("failed to load transcript: %w", err))
	}

	// Stale redeliveries for already-finished transcripts are no-ops.
	if transcript.Status.IsTerminal() {
		logger.Info("Transcript already terminal - discarding task",
			slog.String("status", string(transcript.Status)),
		)
		return nil
	}

	claimed, err := w.store.MarkTranscriptProcessing(ctx, task.TranscriptID)
	if err != nil {
		return retryable(fmt.Errorf("failed to mark transcript processing: %w", err))
	}
	if !claimed {
		logger.Info("Transcript claimed elsewhere - discarding task")
		return nil
	}

	w.notifyJob(ctx, logger, task.JobID)

	if transcript.VideoID == "" {
		logger.Warn("Transcript has no video id - failing permanently",
			slog.String("url", transcript.URL),
		)
		return w.failTranscript(ctx, logger, task, "Invalid YouTube URL")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.fetchTimeout)
	data, fetchErr := w.fetcher.Fetch(fetchCtx, transcript.VideoID)
	cancel()

	if fetchErr == nil {
		done, err := w.store.CompleteTranscript(ctx, task.TranscriptID, data)
		if err != nil {
			return retryable(fmt.Errorf("failed to complete transcript: %w", err))
		}
		if done {
			logger.Info("Transcript completed",
				slog.String("video_id", transcript.VideoID),
			)
			w.notifyJob(ctx, logger, task.JobID)
		}
		return nil
	}

	if domain.IsTransientFetch(fetchErr) {
		return w.retryOrFail(ctx, logger, task, fetchErr)
	}

	logger.Warn("Transcript fetch failed permanently",
		slog.String("video_id", transcript.VideoID),
		slog.String("error", fetchErr.Error()),
	)
	return w.failTranscript(ctx, logger, task, fetchErr.Error())
}

// retryOrFail bumps the attempt counter and either schedules a delayed retry
// or fails the transcript when the retry budget is spent.
func (w *Worker) retryOrFail(ctx context.Context, logger *slog.Logger, task domain.TaskMessage, fetchErr error) error {
	newAttempt, err := w.store.IncrementTranscriptAttempt(ctx, task.TranscriptID)
	if err != nil {
		return retryable(fmt.Errorf("failed to increment attempt: %w", err))
	}

	if newAttempt > w.maxRetries {
		logger.Warn("Transcript retries exhausted",
			slog.Int("attempts", newAttempt),
			slog.String("error", fetchErr.Error()),
		)
		return w.failTranscript(ctx, logger, task, fetchErr.Error())
	}

	delay := w.retryBackoff.Delay(newAttempt - 1)
	retryTask := domain.TaskMessage{
		JobID:        task.JobID,
		TranscriptID: task.TranscriptID,
		Attempt:      newAttempt,
	}

	if err := w.queue.PublishTaskWithDelay(ctx, retryTask, delay); err != nil {
		logger.Error("Failed to schedule retry - failing transcript",
			slog.String("error", err.Error()),
		)
		return w.failTranscript(ctx, logger, task,
			fmt.Sprintf("retry scheduling failed: %v", fetchErr))
	}

	logger.Info("Transcript retry scheduled",
		slog.Int("attempt", newAttempt),
		slog.Duration("delay", delay),
		slog.String("error", fetchErr.Error()),
	)
	return nil
}

func (w *Worker) failTranscript(ctx context.Context, logger *slog.Logger, task domain.TaskMessage, message string) error {
	done, err := w.store.FailTranscript(ctx, task.TranscriptID, message)
	if err != nil {
		return retryable(fmt.Errorf("failed to fail transcript: %w", err))
	}
	if done {
		w.notifyJob(ctx, logger, task.JobID)
	}
	return nil
}

func (w *Worker) notifyJob(ctx context.Context, logger *slog.Logger, jobID string) {
	if err := w.aggregator.OnTranscriptTransition(ctx, jobID); err != nil {
		// The maintenance sweeper re-derives stale jobs, so a failed
		// notification is logged and not retried here.
		logger.Error("Failed to re-derive job status",
			slog.String("error", err.Error()),
		)
	}
}
