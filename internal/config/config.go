package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Yield policies accepted in queue configuration
const (
	YieldRetry  = "retry"
	YieldRotate = "rotate"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Trace     TraceConfig     `yaml:"trace"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds job store connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
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
	WriteBuffer     int           `yaml:"write_buffer"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled          bool             `yaml:"enabled"`
	Host             string           `yaml:"host"`
	Port             int              `yaml:"port"`
	User             string           `yaml:"user"`
	Password         string           `yaml:"password"`
	VHost            string           `yaml:"vhost"`
	Exchange         ExchangeConfig   `yaml:"exchange"`
	Queue            QueueConfig      `yaml:"queue"`
	RoutingKey       string           `yaml:"routing_key"`
	EventsRoutingKey string           `yaml:"events_routing_key"`
	Connection       ConnectionConfig `yaml:"connection"`
	Publish          PublishConfig    `yaml:"publish"`
	Consumer         ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
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
	Buffer            int           `yaml:"buffer"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int    `yaml:"prefetch_count"`
	Tag           string `yaml:"tag"`
	Concurrency   int    `yaml:"concurrency"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// SchedulerConfig holds tick driver configuration
type SchedulerConfig struct {
	TickInterval time.Duration     `yaml:"tick_interval"`
	InboxSize    int               `yaml:"inbox_size"`
	Retention    time.Duration     `yaml:"retention"`
	Queues       []JobQueueConfig  `yaml:"queues"`
	Routes       map[string]string `yaml:"routes"`
}

// JobQueueConfig holds configuration for one time-sliced queue
type JobQueueConfig struct {
	Name      string        `yaml:"name"`
	MaxTime   time.Duration `yaml:"max_time"`
	Priority  bool          `yaml:"priority"`
	Yield     string        `yaml:"yield"`
	MaxLength int           `yaml:"max_length"`
}

// APIConfig holds HTTP API behaviour settings
type APIConfig struct {
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// TraceConfig holds tick trace settings
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Prefix  string `yaml:"prefix"`
	Buffer  int    `yaml:"buffer"`
}

// Load reads and parses the configuration file, then fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	return &config, nil
}

// ApplyDefaults fills zero values with working defaults
func (c *Config) ApplyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "data/tickqueue.sqlite"
	}
	if c.Database.WriteBuffer == 0 {
		c.Database.WriteBuffer = 4096
	}

	if c.RabbitMQ.EventsRoutingKey == "" {
		c.RabbitMQ.EventsRoutingKey = "jobs.events"
	}
	if c.RabbitMQ.Publish.Buffer == 0 {
		c.RabbitMQ.Publish.Buffer = 1024
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 32
	}
	if c.RabbitMQ.Consumer.Tag == "" {
		c.RabbitMQ.Consumer.Tag = "tick-scheduler"
	}
	if c.RabbitMQ.Consumer.Concurrency == 0 {
		c.RabbitMQ.Consumer.Concurrency = 4
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = 50 * time.Millisecond
	}
	if c.Scheduler.InboxSize == 0 {
		c.Scheduler.InboxSize = 1024
	}
	if c.Scheduler.Retention == 0 {
		c.Scheduler.Retention = 5 * time.Minute
	}
	if len(c.Scheduler.Queues) == 0 {
		c.Scheduler.Queues = []JobQueueConfig{{Name: "default"}}
	}
	for i := range c.Scheduler.Queues {
		q := &c.Scheduler.Queues[i]
		if q.MaxTime == 0 {
			q.MaxTime = 2 * time.Millisecond
		}
		if q.Yield == "" {
			q.Yield = YieldRetry
		}
	}

	if c.Trace.Dir == "" {
		c.Trace.Dir = "data/trace"
	}
	if c.Trace.Prefix == "" {
		c.Trace.Prefix = "ticks"
	}
	if c.Trace.Buffer == 0 {
		c.Trace.Buffer = 256
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return c.ValidateScheduler()
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
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

	return nil
}

// ValidateScheduler checks the tick driver and queue settings
func (c *Config) ValidateScheduler() error {
	s := c.Scheduler

	if s.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick_interval must be greater than 0")
	}

	if s.InboxSize <= 0 {
		return fmt.Errorf("scheduler inbox_size must be greater than 0")
	}

	if len(s.Queues) == 0 {
		return fmt.Errorf("at least one scheduler queue is required")
	}

	names := make(map[string]bool, len(s.Queues))
	var budget time.Duration
	for _, q := range s.Queues {
		if q.Name == "" {
			return fmt.Errorf("scheduler queue name is required")
		}
		if names[q.Name] {
			return fmt.Errorf("duplicate scheduler queue: %s", q.Name)
		}
		names[q.Name] = true

		if q.MaxTime <= 0 {
			return fmt.Errorf("queue %s max_time must be greater than 0", q.Name)
		}
		if q.Yield != YieldRetry && q.Yield != YieldRotate {
			return fmt.Errorf("queue %s has invalid yield policy: %q", q.Name, q.Yield)
		}
		if q.MaxLength < 0 {
			return fmt.Errorf("queue %s max_length must not be negative", q.Name)
		}
		budget += q.MaxTime
	}

	if budget >= s.TickInterval {
		return fmt.Errorf("combined queue max_time %s must be shorter than tick_interval %s", budget, s.TickInterval)
	}

	for kind, queue := range s.Routes {
		if !names[queue] {
			return fmt.Errorf("route for %s references unknown queue %s", kind, queue)
		}
	}

	return nil
}
