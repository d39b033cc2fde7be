package models

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Webhook   WebhookConfig   `json:"webhook"`
	Provider  ProviderConfig  `json:"provider"`
	Database  DatabaseConfig  `json:"database"`
	Queue     QueueConfig     `json:"queue"`
	Events    EventsConfig    `json:"events"`
	Processor ProcessorConfig `json:"processor"`
	Flows     FlowsConfig     `json:"flows"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Retry     RetryConfig     `json:"retry"`
	Retention RetentionConfig `json:"retention"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec"`
	ShutdownSec     int `json:"shutdown_sec"`
}

// WebhookConfig holds the inbound webhook settings
type WebhookConfig struct {
	VerifyToken  string `json:"verify_token"`
	Secret       string `json:"secret"`
	MaxBodyBytes int64  `json:"max_body_bytes"`
}

// ProviderConfig holds the outbound provider API settings
type ProviderConfig struct {
	APIBaseURL string `json:"api_base_url"`
	TimeoutSec int    `json:"timeout_sec"`

	// circuit breaker over the send endpoint
	BreakerFailureThreshold int `json:"breaker_failure_threshold"`
	BreakerCooldownSec      int `json:"breaker_cooldown_sec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// QueueConfig selects and tunes the job queue driver
type QueueConfig struct {
	Driver         string `json:"driver"` // "memory" or "nats"
	NATSURL        string `json:"nats_url"`
	StreamPrefix   string `json:"stream_prefix"`
	MaxAttempts    int    `json:"max_attempts"`
	BufferSize     int    `json:"buffer_size"`
	DedupWindowMin int    `json:"dedup_window_min"`
}

// EventsConfig selects the internal event bus driver
type EventsConfig struct {
	Driver        string `json:"driver"` // "memory" or "nats"
	NATSURL       string `json:"nats_url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// ProcessorConfig tunes the raw event processor
type ProcessorConfig struct {
	Workers         int `json:"workers"`
	EventsPerSecond int `json:"events_per_second"`
}

// FlowsConfig tunes the flow execution engine
type FlowsConfig struct {
	PollIntervalMs  int `json:"poll_interval_ms"`
	ClaimBatchSize  int `json:"claim_batch_size"`
	MaxRetries      int `json:"max_retries"`
	MaxNodeVisits   int `json:"max_node_visits"`
	DelayMinSeconds int `json:"delay_min_seconds"`
	DelayMaxSeconds int `json:"delay_max_seconds"`
}

// RateLimitConfig tunes the per-tenant token buckets
type RateLimitConfig struct {
	DefaultPerMinute int `json:"default_per_minute"`
	BucketTTLMinutes int `json:"bucket_ttl_minutes"`
	SweepIntervalMin int `json:"sweep_interval_min"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts"`
}

// RetentionConfig tunes the background cleanup sweep
type RetentionConfig struct {
	Days               int `json:"days"`
	SweepIntervalHours int `json:"sweep_interval_hours"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	UseStdout   bool    `json:"use_stdout"`
	SampleRate  float64 `json:"sample_rate"`
	Environment string  `json:"environment"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
