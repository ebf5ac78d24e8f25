package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/flockd/flockd/internal/logger"
)

// Config is the immutable top-level configuration. It is loaded once at
// startup; a reload constructs a whole new Config and swaps it atomically,
// never mutating an existing one in place.
type Config struct {
	Pool       Pool          `mapstructure:"pool"`
	Connection Connection    `mapstructure:"connection"`
	Queue      Queue         `mapstructure:"queue"`
	Log        logger.Config `mapstructure:"log"`
	Store      Store         `mapstructure:"store"`
	Server     Server        `mapstructure:"server"`
}

// Pool bounds and tuning for the worker fleet.
type Pool struct {
	MinWorkers              int           `mapstructure:"min_workers"`
	MaxWorkers              int           `mapstructure:"max_workers"`
	WorkerCommand           string        `mapstructure:"worker_command"`
	StartDelay              time.Duration `mapstructure:"start_delay"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	HealthCPUThreshold      float64       `mapstructure:"health_cpu_threshold"`
	HealthMemThreshold      float64       `mapstructure:"health_mem_threshold"`
	TasksPerWorker          int           `mapstructure:"tasks_per_worker"`
	BacklogThreshold        int           `mapstructure:"backlog_threshold"`
	CheckInterval           time.Duration `mapstructure:"check_interval"`
}

// Connection tunes the outbound connection layer.
type Connection struct {
	Endpoints         []string      `mapstructure:"endpoints"` // ordered, first is primary
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	MaxBatchSize      int           `mapstructure:"max_batch_size"`
	MaxPerDestination int           `mapstructure:"max_per_destination"`
	BytesPerSecond    int64         `mapstructure:"bytes_per_second"` // 0 disables throttling
}

// Queue points at the external task queue.
type Queue struct {
	RedisAddr string `mapstructure:"redis_addr"`
	Name      string `mapstructure:"name"`
}

// Store selects the lifecycle-event store backend.
type Store struct {
	Type string `mapstructure:"type"` // "", "sqlite", "postgres"
	DSN  string `mapstructure:"dsn"`
}

// Server configures the embedded ops HTTP API.
type Server struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load parses a TOML config file and validates it. Any error here is fatal
// to startup by design.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	applyDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("pool.min_workers", 1)
	v.SetDefault("pool.max_workers", 8)
	v.SetDefault("pool.start_delay", "500ms")
	v.SetDefault("pool.graceful_shutdown_timeout", "10s")
	v.SetDefault("pool.health_cpu_threshold", 90.0)
	v.SetDefault("pool.health_mem_threshold", 90.0)
	v.SetDefault("pool.tasks_per_worker", 10)
	v.SetDefault("pool.backlog_threshold", 100)
	v.SetDefault("pool.check_interval", "5s")
	v.SetDefault("connection.requests_per_window", 100)
	v.SetDefault("connection.window", "1s")
	v.SetDefault("connection.max_attempts", 3)
	v.SetDefault("connection.initial_delay", "100ms")
	v.SetDefault("connection.backoff_factor", 2.0)
	v.SetDefault("connection.connect_timeout", "10s")
	v.SetDefault("connection.cache_ttl", "30s")
	v.SetDefault("connection.max_batch_size", 20)
	v.SetDefault("connection.max_per_destination", 4)
	v.SetDefault("queue.name", "tasks")
	v.SetDefault("server.listen", ":8440")
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	p := c.Pool
	if p.MinWorkers < 0 {
		return fmt.Errorf("pool.min_workers must be >= 0, got %d", p.MinWorkers)
	}
	if p.MaxWorkers < 1 {
		return fmt.Errorf("pool.max_workers must be >= 1, got %d", p.MaxWorkers)
	}
	if p.MinWorkers > p.MaxWorkers {
		return fmt.Errorf("pool.min_workers %d exceeds pool.max_workers %d", p.MinWorkers, p.MaxWorkers)
	}
	if p.WorkerCommand == "" {
		return fmt.Errorf("pool.worker_command is required")
	}
	if p.TasksPerWorker <= 0 {
		return fmt.Errorf("pool.tasks_per_worker must be > 0, got %d", p.TasksPerWorker)
	}
	cn := c.Connection
	if len(cn.Endpoints) == 0 {
		return fmt.Errorf("connection.endpoints must list at least one endpoint")
	}
	if cn.RequestsPerWindow <= 0 {
		return fmt.Errorf("connection.requests_per_window must be > 0, got %d", cn.RequestsPerWindow)
	}
	if cn.Window <= 0 {
		return fmt.Errorf("connection.window must be > 0")
	}
	if cn.MaxAttempts < 1 {
		return fmt.Errorf("connection.max_attempts must be >= 1, got %d", cn.MaxAttempts)
	}
	if cn.BackoffFactor < 1 {
		return fmt.Errorf("connection.backoff_factor must be >= 1, got %v", cn.BackoffFactor)
	}
	switch c.Store.Type {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.type %q not supported (sqlite, postgres)", c.Store.Type)
	}
	if c.Store.Type != "" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required when store.type is set")
	}
	return nil
}
