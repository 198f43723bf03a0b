package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ytscriptify/transcriber/internal/backoff"
	"github.com/ytscriptify/transcriber/internal/domain"
)

// Store is the persistence surface the dispatcher needs
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetJobTranscripts(ctx context.Context, jobID string) ([]domain.Transcript, error)
	MarkCallbackDelivered(ctx context.Context, jobID string) error
	RecordCallbackError(ctx context.Context, jobID, errorMessage string) error
}

// Config holds webhook delivery settings
type Config struct {
	Logger         *slog.Logger
	Store          Store
	HTTPClient     *http.Client
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// Dispatcher delivers the completion webhook when a job reaches a terminal
// status. Delivery is at-least-once: the payload is stable across attempts
// (same job id, same body) so receivers can de-duplicate.
type Dispatcher struct {
	logger         *slog.Logger
	store          Store
	httpClient     *http.Client
	maxAttempts    int
	attemptTimeout time.Duration
	backoff        *backoff.Exponential

	wg sync.WaitGroup
}

// New creates a Dispatcher
func New(cfg *Config) *Dispatcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		logger:         cfg.Logger,
		store:          cfg.Store,
		httpClient:     client,
		maxAttempts:    cfg.MaxAttempts,
		attemptTimeout: cfg.AttemptTimeout,
		backoff:        backoff.NewExponential(cfg.BaseDelay, cfg.MaxDelay),
	}
}

// transcriptPayload is one entry of the webhook body, in submission order
type transcriptPayload struct {
	URL        string          `json:"url"`
	VideoID    string          `json:"video_id"`
	Status     string          `json:"status"`
	Transcript json.RawMessage `json:"transcript"`
	Error      *string         `json:"error"`
}

// jobPayload is the webhook body
type jobPayload struct {
	JobID       string              `json:"job_id"`
	Status      string              `json:"status"`
	Transcripts []transcriptPayload `json:"transcripts"`
}

// NotifyJobFinished launches delivery in the background. It never blocks the
// caller, which may be a worker goroutine holding a queue slot.
func (d *Dispatcher) NotifyJobFinished(jobID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Deliver(context.Background(), jobID)
	}()
}

// Wait blocks until all in-flight deliveries finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver sends the completion webhook with retries and capped exponential
// backoff. Exhausting all attempts records the failure on the job without
// touching its status; the client can still poll for the result.
func (d *Dispatcher) Deliver(ctx context.Context, jobID string) {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		d.logger.Error("Callback delivery aborted - failed to load job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if job.CallbackURL == "" {
		return
	}
	if job.CallbackDeliveredAt != nil {
		d.logger.Debug("Callback already delivered, skipping",
			slog.String("job_id", jobID),
		)
		return
	}

	body, err := d.buildPayload(ctx, job)
	if err != nil {
		d.logger.Error("Failed to build callback payload",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	var lastErr error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := d.backoff.Delay(attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				d.recordFailure(job.JobID, lastErr)
				return
			}
		}

		lastErr = d.attempt(ctx, job, body)
		if lastErr == nil {
			d.logger.Info("Callback delivered",
				slog.String("job_id", job.JobID),
				slog.Int("attempt", attempt+1),
			)
			if err := d.store.MarkCallbackDelivered(ctx, job.JobID); err != nil {
				d.logger.Error("Failed to record callback delivery",
					slog.String("job_id", job.JobID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		d.logger.Warn("Callback delivery attempt failed",
			slog.String("job_id", job.JobID),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", d.maxAttempts),
			slog.String("error", lastErr.Error()),
		)
	}

	d.recordFailure(job.JobID, lastErr)
}

func (d *Dispatcher) buildPayload(ctx context.Context, job *domain.Job) ([]byte, error) {
	transcripts, err := d.store.GetJobTranscripts(ctx, job.JobID)
	if err != nil {
		return nil, err
	}

	payload := jobPayload{
		JobID:       job.JobID,
		Status:      string(job.Status),
		Transcripts: make([]transcriptPayload, len(transcripts)),
	}

	for i, t := range transcripts {
		entry := transcriptPayload{
			URL:     t.URL,
			VideoID: t.VideoID,
			Status:  string(t.Status),
		}
		if t.Status == domain.TranscriptStatusCompleted && t.Transcript != "" {
			entry.Transcript = json.RawMessage(t.Transcript)
		} else {
			entry.Transcript = json.RawMessage("null")
		}
		if t.Status == domain.TranscriptStatusFailed {
			msg := t.ErrorMessage
			entry.Error = &msg
		}
		payload.Transcripts[i] = entry
	}

	return json.Marshal(payload)
}

// attempt makes one bounded delivery attempt. Any non-2xx response counts
// as a failure.
func (d *Dispatcher) attempt(ctx context.Context, job *domain.Job, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", job.JobID)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) recordFailure(jobID string, lastErr error) {
	msg := "callback delivery failed"
	if lastErr != nil {
		msg = fmt.Sprintf("callback delivery failed after %d attempts: %s", d.maxAttempts, lastErr.Error())
	}

	d.logger.Error("Callback delivery exhausted all attempts",
		slog.String("job_id", jobID),
		slog.Int("max_attempts", d.maxAttempts),
	)

	if err := d.store.RecordCallbackError(context.Background(), jobID, msg); err != nil {
		d.logger.Error("Failed to record callback error",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
