package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ytscriptify/transcriber/internal/domain"
)

const sweepBatchSize = 100

// Store lists jobs the sweeper needs to revisit
type Store interface {
	ListStaleActiveJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error)
	ListUndeliveredJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error)
}

// Aggregator re-derives a job's status from its transcripts
type Aggregator interface {
	OnTranscriptTransition(ctx context.Context, jobID string) error
}

// Deliverer retries the finish callback for a job
type Deliverer interface {
	Deliver(ctx context.Context, jobID string)
}

// Config holds sweeper configuration
type Config struct {
	Logger     *slog.Logger
	Store      Store
	Aggregator Aggregator
	Deliverer  Deliverer
	Schedule   string
	StaleAfter time.Duration
}

// Sweeper periodically reconciles jobs whose status derivation or callback
// delivery was missed, e.g. after a worker crash mid-transition.
type Sweeper struct {
	logger     *slog.Logger
	store      Store
	aggregator Aggregator
	deliverer  Deliverer
	schedule   string
	staleAfter time.Duration
	cron       *cron.Cron
}

// New creates a sweeper instance
func New(cfg *Config) *Sweeper {
	return &Sweeper{
		logger:     cfg.Logger,
		store:      cfg.Store,
		aggregator: cfg.Aggregator,
		deliverer:  cfg.Deliverer,
		schedule:   cfg.Schedule,
		staleAfter: cfg.StaleAfter,
		cron:       cron.New(),
	}
}

// Start registers the sweep schedule and starts the cron runner
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Maintenance sweeper started",
		slog.String("schedule", s.schedule),
		slog.Duration("stale_after", s.staleAfter),
	)
	return nil
}

// Stop stops the cron runner and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Maintenance sweeper stopped")
}

// Sweep runs one reconciliation pass
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter)

	s.sweepStaleJobs(ctx, cutoff)
	s.sweepUndeliveredCallbacks(ctx, cutoff)
}

func (s *Sweeper) sweepStaleJobs(ctx context.Context, cutoff time.Time) {
	jobs, err := s.store.ListStaleActiveJobs(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list stale jobs",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(jobs) == 0 {
		return
	}

	s.logger.Info("Re-deriving stale jobs",
		slog.Int("count", len(jobs)),
	)
	for _, job := range jobs {
		if err := s.aggregator.OnTranscriptTransition(ctx, job.JobID); err != nil {
			s.logger.Error("Failed to re-derive stale job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Sweeper) sweepUndeliveredCallbacks(ctx context.Context, cutoff time.Time) {
	jobs, err := s.store.ListUndeliveredJobs(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list undelivered callbacks",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(jobs) == 0 {
		return
	}

	s.logger.Info("Retrying undelivered callbacks",
		slog.Int("count", len(jobs)),
	)
	for _, job := range jobs {
		s.deliverer.Deliver(ctx, job.JobID)
	}
}
