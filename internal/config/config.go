package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ytscriptify/transcriber/internal/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Auth        AuthConfig        `yaml:"auth"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Worker      WorkerConfig      `yaml:"worker"`
	Callback    CallbackConfig    `yaml:"callback"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration. WaitQueueName is the
// companion queue that parks delayed retry tasks; its dead-letter target is
// the main queue.
type QueueConfig struct {
	Name          string `yaml:"name"`
	WaitQueueName string `yaml:"wait_queue_name"`
	Durable       bool   `yaml:"durable"`
	AutoDelete    bool   `yaml:"auto_delete"`
	Exclusive     bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// RedisConfig holds the optional transcript cache settings
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AuthConfig holds API authentication settings. An empty APIKey disables
// the key check.
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// JobsConfig holds submission limits and the aggregation policy
type JobsConfig struct {
	MaxURLsPerJob    int    `yaml:"max_urls_per_job"`
	MaxPageSize      int    `yaml:"max_page_size"`
	DefaultPageSize  int    `yaml:"default_page_size"`
	CompletionPolicy string `yaml:"completion_policy"`
}

// Policy translates the configured completion_policy string, defaulting to
// any_success when unset.
func (j JobsConfig) Policy() domain.CompletionPolicy {
	if j.CompletionPolicy == string(domain.PolicyAllSuccess) {
		return domain.PolicyAllSuccess
	}
	return domain.PolicyAnySuccess
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CallbackConfig holds webhook delivery settings
type CallbackConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
}

// MaintenanceConfig holds the worker-service sweeper schedule
type MaintenanceConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SweepSchedule string `yaml:"sweep_schedule"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// validateShared checks settings both services depend on
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if p := c.Jobs.CompletionPolicy; p != "" &&
		p != string(domain.PolicyAnySuccess) && p != string(domain.PolicyAllSuccess) {
		return fmt.Errorf("invalid completion_policy: %q", p)
	}

	return nil
}

// ValidateAPIConfig checks the settings the api-service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Jobs.MaxURLsPerJob <= 0 {
		return fmt.Errorf("jobs max_urls_per_job must be greater than 0")
	}

	if c.Jobs.MaxPageSize <= 0 {
		return fmt.Errorf("jobs max_page_size must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker-service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.FetchTimeout <= 0 {
		return fmt.Errorf("worker fetch_timeout must be greater than 0")
	}

	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker max_retries must not be negative")
	}

	if c.Worker.RetryBaseDelay <= 0 {
		return fmt.Errorf("worker retry_base_delay must be greater than 0")
	}

	if c.Worker.RetryMaxDelay < c.Worker.RetryBaseDelay {
		return fmt.Errorf("worker retry_max_delay must be at least retry_base_delay")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Callback.MaxAttempts <= 0 {
		return fmt.Errorf("callback max_attempts must be greater than 0")
	}

	if c.Callback.AttemptTimeout <= 0 {
		return fmt.Errorf("callback attempt_timeout must be greater than 0")
	}

	if c.Callback.BaseDelay <= 0 {
		return fmt.Errorf("callback base_delay must be greater than 0")
	}

	if c.Callback.MaxDelay < c.Callback.BaseDelay {
		return fmt.Errorf("callback max_delay must be at least base_delay")
	}

	if c.RabbitMQ.Queue.WaitQueueName == "" {
		return fmt.Errorf("rabbitmq wait queue name is required")
	}

	return nil
}
