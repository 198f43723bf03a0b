package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytscriptify/transcriber/internal/backoff"
	"github.com/ytscriptify/transcriber/internal/domain"
	"github.com/ytscriptify/transcriber/internal/fetch"
	"github.com/ytscriptify/transcriber/shared/rabbitmq"
)

// Store is the persistence surface the worker needs
type Store interface {
	GetTranscript(ctx context.Context, transcriptID string) (*domain.Transcript, error)
	MarkTranscriptProcessing(ctx context.Context, transcriptID string) (bool, error)
	CompleteTranscript(ctx context.Context, transcriptID, data string) (bool, error)
	FailTranscript(ctx context.Context, transcriptID, errorMessage string) (bool, error)
	IncrementTranscriptAttempt(ctx context.Context, transcriptID string) (int, error)
}

// DelayedPublisher schedules retry tasks without blocking a worker slot
type DelayedPublisher interface {
	PublishTaskWithDelay(ctx context.Context, task domain.TaskMessage, delay time.Duration) error
}

// Aggregator re-derives the job status after a transcript state change
type Aggregator interface {
	OnTranscriptTransition(ctx context.Context, jobID string) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Store         Store
	Queue         DelayedPublisher
	Aggregator    Aggregator
	Fetcher       fetch.Fetcher
	RabbitClient  *rabbitmq.Client
	Concurrency   int
	PrefetchCount int
	FetchTimeout  time.Duration
	MaxRetries    int
	RetryBase     time.Duration
	RetryMax      time.Duration
}

// Worker consumes transcript tasks from RabbitMQ and processes them with a
// pool of goroutines.
type Worker struct {
	logger       *slog.Logger
	store        Store
	queue        DelayedPublisher
	aggregator   Aggregator
	fetcher      fetch.Fetcher
	rabbitClient *rabbitmq.Client

	workerID      string
	concurrency   int
	prefetchCount int
	fetchTimeout  time.Duration
	maxRetries    int
	retryBackoff  *backoff.Exponential

	tasksChan chan *taskDelivery
	wg        sync.WaitGroup
	stopChan  chan struct{}
}

// taskDelivery pairs a parsed task with its AMQP delivery tag for ack/nack
type taskDelivery struct {
	Task        domain.TaskMessage
	DeliveryTag uint64
}

// NewWorker creates a worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:        cfg.Logger,
		store:         cfg.Store,
		queue:         cfg.Queue,
		aggregator:    cfg.Aggregator,
		fetcher:       cfg.Fetcher,
		rabbitClient:  cfg.RabbitClient,
		workerID:      fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		fetchTimeout:  cfg.FetchTimeout,
		maxRetries:    cfg.MaxRetries,
		retryBackoff:  backoff.NewExponential(cfg.RetryBase, cfg.RetryMax),
		tasksChan:     make(chan *taskDelivery),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing tasks until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("fetch_timeout", w.fetchTimeout),
		slog.Int("max_retries", w.maxRetries),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnPool(ctx)

	go w.dispatchDeliveries(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context cancelled, stopping...")

	return nil
}

// Stop gracefully stops the worker pool
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
