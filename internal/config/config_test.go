package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytscriptify/transcriber/internal/domain"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "transcriber_db", cfg.Database.Database)
				assert.Equal(t, "transcripts_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "transcripts_wait_queue", cfg.RabbitMQ.Queue.WaitQueueName)
				assert.Equal(t, 50, cfg.Jobs.MaxURLsPerJob)
				assert.Equal(t, 3, cfg.Worker.MaxRetries)
				assert.Equal(t, time.Minute, cfg.Worker.RetryBaseDelay)
				assert.Equal(t, 5, cfg.Callback.MaxAttempts)
				assert.True(t, cfg.Redis.Enabled)
				assert.Equal(t, "*/5 * * * *", cfg.Maintenance.SweepSchedule)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "transcriber_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "transcripts_exchange",
			},
			Queue: QueueConfig{
				Name:          "transcripts_queue",
				WaitQueueName: "transcripts_wait_queue",
			},
		},
		Jobs: JobsConfig{
			MaxURLsPerJob:   50,
			MaxPageSize:     100,
			DefaultPageSize: 10,
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			FetchTimeout:    30 * time.Second,
			MaxRetries:      3,
			RetryBaseDelay:  time.Minute,
			RetryMaxDelay:   10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Callback: CallbackConfig{
			MaxAttempts:    5,
			AttemptTimeout: 10 * time.Second,
			BaseDelay:      2 * time.Second,
			MaxDelay:       time.Minute,
		},
	}
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "missing rabbitmq exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "exchange name is required",
		},
		{
			name:      "zero max urls per job",
			mutate:    func(c *Config) { c.Jobs.MaxURLsPerJob = 0 },
			wantErr:   true,
			errString: "max_urls_per_job",
		},
		{
			name:      "unknown completion policy",
			mutate:    func(c *Config) { c.Jobs.CompletionPolicy = "majority" },
			wantErr:   true,
			errString: "invalid completion_policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "concurrency must be greater than 0",
		},
		{
			name:      "zero fetch timeout",
			mutate:    func(c *Config) { c.Worker.FetchTimeout = 0 },
			wantErr:   true,
			errString: "fetch_timeout",
		},
		{
			name:      "negative max retries",
			mutate:    func(c *Config) { c.Worker.MaxRetries = -1 },
			wantErr:   true,
			errString: "max_retries",
		},
		{
			name:      "max delay below base delay",
			mutate:    func(c *Config) { c.Worker.RetryMaxDelay = time.Second },
			wantErr:   true,
			errString: "retry_max_delay",
		},
		{
			name:      "zero callback attempts",
			mutate:    func(c *Config) { c.Callback.MaxAttempts = 0 },
			wantErr:   true,
			errString: "callback max_attempts",
		},
		{
			name:      "zero callback base delay",
			mutate:    func(c *Config) { c.Callback.BaseDelay = 0 },
			wantErr:   true,
			errString: "callback base_delay",
		},
		{
			name:      "callback max delay below base delay",
			mutate:    func(c *Config) { c.Callback.MaxDelay = time.Second },
			wantErr:   true,
			errString: "callback max_delay",
		},
		{
			name:      "missing wait queue",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.WaitQueueName = "" },
			wantErr:   true,
			errString: "wait queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestJobsConfigPolicy(t *testing.T) {
	assert.Equal(t, domain.PolicyAnySuccess, JobsConfig{}.Policy())
	assert.Equal(t, domain.PolicyAnySuccess, JobsConfig{CompletionPolicy: "any_success"}.Policy())
	assert.Equal(t, domain.PolicyAllSuccess, JobsConfig{CompletionPolicy: "all_success"}.Policy())
}
