package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ytscriptify/transcriber/internal/callback"
	"github.com/ytscriptify/transcriber/internal/config"
	"github.com/ytscriptify/transcriber/internal/fetch"
	"github.com/ytscriptify/transcriber/internal/maintenance"
	"github.com/ytscriptify/transcriber/internal/orchestrator"
	"github.com/ytscriptify/transcriber/internal/queue"
	"github.com/ytscriptify/transcriber/internal/storage"
	"github.com/ytscriptify/transcriber/internal/worker"
	"github.com/ytscriptify/transcriber/shared/logger"
	"github.com/ytscriptify/transcriber/shared/postgresql"
	"github.com/ytscriptify/transcriber/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	store := storage.New(dbClient, appLogger.Logger)
	taskQueue := queue.NewTaskQueue(rabbitClient, appLogger.Logger)

	dispatcher := callback.New(&callback.Config{
		Logger:         appLogger.Logger,
		Store:          store,
		MaxAttempts:    cfg.Callback.MaxAttempts,
		AttemptTimeout: cfg.Callback.AttemptTimeout,
		BaseDelay:      cfg.Callback.BaseDelay,
		MaxDelay:       cfg.Callback.MaxDelay,
	})

	aggregator := orchestrator.New(&orchestrator.Config{
		Logger:          appLogger.Logger,
		Store:           store,
		Queue:           taskQueue,
		Notifier:        dispatcher,
		Policy:          cfg.Jobs.Policy(),
		MaxURLsPerJob:   cfg.Jobs.MaxURLsPerJob,
		DefaultPageSize: cfg.Jobs.DefaultPageSize,
		MaxPageSize:     cfg.Jobs.MaxPageSize,
	})

	fetcher := initFetcher(cfg, appLogger.Logger)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Store:         store,
		Queue:         taskQueue,
		Aggregator:    aggregator,
		Fetcher:       fetcher,
		RabbitClient:  rabbitClient,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		FetchTimeout:  cfg.Worker.FetchTimeout,
		MaxRetries:    cfg.Worker.MaxRetries,
		RetryBase:     cfg.Worker.RetryBaseDelay,
		RetryMax:      cfg.Worker.RetryMaxDelay,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background sweeper for jobs whose status derivation or callback
	// delivery was missed.
	var sweeper *maintenance.Sweeper
	if cfg.Maintenance.Enabled {
		sweeper = maintenance.New(&maintenance.Config{
			Logger:     appLogger.Logger,
			Store:      store,
			Aggregator: aggregator,
			Deliverer:  dispatcher,
			Schedule:   cfg.Maintenance.SweepSchedule,
			StaleAfter: cfg.Worker.FetchTimeout * 2,
		})
		if err := sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start maintenance sweeper: %w", err)
		}
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		if sweeper != nil {
			sweeper.Stop()
		}
		dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		WaitQueueName:      cfg.Queue.WaitQueueName,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initFetcher builds the transcript fetcher, optionally wrapped in the Redis
// read-through cache.
func initFetcher(cfg *config.Config, log *slog.Logger) fetch.Fetcher {
	var fetcher fetch.Fetcher = fetch.NewTimedTextFetcher(&http.Client{}, "", "", log)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		fetcher = fetch.NewCachedFetcher(fetcher, rdb, cfg.Redis.TTL, log)
		log.Info("Transcript cache enabled",
			slog.String("addr", cfg.Redis.Addr),
		)
	}

	return fetcher
}
