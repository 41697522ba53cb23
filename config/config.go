// Package config provides unified configuration loading for the
// orchestrator: defaults, YAML files, and environment overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("COURSECRAFT").
//	    Load()
//
// Precedence: defaults → YAML file → environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the complete orchestrator configuration.
type Config struct {
	// Workflow holds orchestration knobs.
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// LLM configures the OpenAI-backed stage agents.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Checkpoint selects and configures the checkpoint backend.
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`

	// Redis configures the Redis checkpoint store and pub/sub notifier.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database configures the relational checkpoint and task stores.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo configures the MongoDB checkpoint store.
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// WorkflowConfig holds the orchestration knobs.
type WorkflowConfig struct {
	// MaxValidationRetries bounds the validation/editor loop.
	MaxValidationRetries int `yaml:"max_validation_retries" env:"MAX_VALIDATION_RETRIES"`

	// SkipHumanReview routes validated frameworks straight to content
	// generation.
	SkipHumanReview bool `yaml:"skip_human_review" env:"SKIP_HUMAN_REVIEW"`

	// FailClosed terminates the workflow as failed when validation
	// retries are exhausted and human review is disabled. The default is
	// fail-open: finish as partial_failure so a caller can still inspect
	// the framework.
	FailClosed bool `yaml:"fail_closed" env:"FAIL_CLOSED"`

	// ContentConcurrency bounds the content generation fan-out pool.
	ContentConcurrency int `yaml:"content_concurrency" env:"CONTENT_CONCURRENCY"`

	// CheckpointEvery is the fan-out checkpoint cadence: a checkpoint is
	// written after every N settled content units. 1 checkpoints after
	// each unit.
	CheckpointEvery int `yaml:"checkpoint_every" env:"CHECKPOINT_EVERY"`

	// AgentTimeout is the per-agent-call deadline.
	AgentTimeout time.Duration `yaml:"agent_timeout" env:"AGENT_TIMEOUT"`
}

// LLMConfig configures the OpenAI-backed agents.
type LLMConfig struct {
	// APIKey authenticates against the OpenAI-compatible endpoint.
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// BaseURL overrides the API endpoint (for proxies and compatible
	// providers). Empty uses the provider default.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// Model is the chat model used by all stage agents.
	Model string `yaml:"model" env:"MODEL"`

	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`

	// MaxTokens caps completion length per call.
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`

	// RequestsPerSecond is the client-side rate limit (0 disables).
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`

	// Burst is the rate limiter burst size.
	Burst int `yaml:"burst" env:"BURST"`

	// MaxRetries bounds transient-error retries inside the agents.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`

	// InitialRetryDelay is the first backoff delay.
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay" env:"INITIAL_RETRY_DELAY"`

	// MaxRetryDelay caps the backoff delay.
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" env:"MAX_RETRY_DELAY"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	// Backend is one of: memory, redis, postgres, mongo.
	Backend string `yaml:"backend" env:"BACKEND"`
}

// RedisConfig configures Redis connections.
type RedisConfig struct {
	// Addr is the host:port address.
	Addr string `yaml:"addr" env:"ADDR"`

	// Password is the optional auth password.
	Password string `yaml:"password" env:"PASSWORD"`

	// DB is the database number.
	DB int `yaml:"db" env:"DB"`

	// PoolSize is the connection pool size.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`

	// KeyPrefix namespaces all orchestrator keys.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig configures the relational stores.
type DatabaseConfig struct {
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn" env:"DSN"`

	// MaxOpenConns caps open connections.
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`

	// MaxIdleConns caps idle connections.
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`

	// ConnMaxLifetime bounds connection reuse.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig configures the MongoDB checkpoint store.
type MongoConfig struct {
	// URI is the MongoDB connection URI.
	URI string `yaml:"uri" env:"URI"`

	// Database is the database name.
	Database string `yaml:"database" env:"DATABASE"`

	// Collection is the checkpoint collection name.
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`

	// Format is one of: json, console.
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns telemetry export on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// ServiceName tags exported spans and metrics.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`

	// SampleRate is the trace sampling ratio in [0,1].
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns metrics collection on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Namespace prefixes all metric names.
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Workflow: WorkflowConfig{
			MaxValidationRetries: 3,
			ContentConcurrency:   4,
			CheckpointEvery:      1,
			AgentTimeout:         2 * time.Minute,
		},
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			Temperature:       0.4,
			MaxTokens:         4096,
			RequestsPerSecond: 2,
			Burst:             4,
			MaxRetries:        3,
			InitialRetryDelay: time.Second,
			MaxRetryDelay:     30 * time.Second,
		},
		Checkpoint: CheckpointConfig{
			Backend: "memory",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "coursecraft:",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Mongo: MongoConfig{
			Database:   "coursecraft",
			Collection: "checkpoints",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "coursecraft",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "coursecraft",
		},
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Workflow.MaxValidationRetries < 0 {
		return fmt.Errorf("workflow.max_validation_retries must be >= 0")
	}
	if c.Workflow.ContentConcurrency < 1 {
		return fmt.Errorf("workflow.content_concurrency must be >= 1")
	}
	if c.Workflow.CheckpointEvery < 1 {
		return fmt.Errorf("workflow.checkpoint_every must be >= 1")
	}
	if c.Workflow.AgentTimeout <= 0 {
		return fmt.Errorf("workflow.agent_timeout must be positive")
	}
	switch c.Checkpoint.Backend {
	case "memory", "redis", "postgres", "mongo":
	default:
		return fmt.Errorf("checkpoint.backend must be one of memory, redis, postgres, mongo; got %q", c.Checkpoint.Backend)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be in [0,1]")
	}
	return nil
}
