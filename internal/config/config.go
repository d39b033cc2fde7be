package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"waflow/internal/constants"
	"waflow/internal/models"
	"waflow/internal/security"
)

var ErrMissingDBPath = models.ConfigError{Message: "missing database path"}

// LoadConfig reads the JSON config file, applies WAFLOW_* environment
// overrides, fills defaults, and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateProduction(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.ShutdownSec <= 0 {
		c.Server.ShutdownSec = constants.DefaultGracefulShutdownSec
	}

	if c.Webhook.MaxBodyBytes <= 0 {
		c.Webhook.MaxBodyBytes = constants.DefaultMaxWebhookBodyBytes
	}

	if c.Provider.TimeoutSec <= 0 {
		c.Provider.TimeoutSec = constants.DefaultProviderTimeoutSec
	}
	if c.Provider.BreakerFailureThreshold <= 0 {
		c.Provider.BreakerFailureThreshold = constants.DefaultBreakerFailureThreshold
	}
	if c.Provider.BreakerCooldownSec <= 0 {
		c.Provider.BreakerCooldownSec = constants.DefaultBreakerCooldownSec
	}

	switch c.Queue.Driver {
	case "":
		c.Queue.Driver = "memory"
	case "memory", "nats":
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown queue driver %q", c.Queue.Driver)}
	}
	if c.Queue.Driver == "nats" && c.Queue.NATSURL == "" {
		return models.ConfigError{Message: "queue driver nats requires nats_url"}
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = constants.DefaultQueueBufferSize
	}
	if c.Queue.DedupWindowMin <= 0 {
		c.Queue.DedupWindowMin = constants.DefaultDedupWindowMin
	}

	switch c.Events.Driver {
	case "":
		c.Events.Driver = "memory"
	case "memory", "nats":
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown events driver %q", c.Events.Driver)}
	}
	if c.Events.Driver == "nats" && c.Events.NATSURL == "" {
		return models.ConfigError{Message: "events driver nats requires nats_url"}
	}

	if c.Processor.Workers <= 0 {
		c.Processor.Workers = constants.DefaultProcessorWorkers
	}
	if c.Processor.EventsPerSecond <= 0 {
		c.Processor.EventsPerSecond = constants.DefaultEventsPerSecond
	}

	if c.Flows.PollIntervalMs <= 0 {
		c.Flows.PollIntervalMs = constants.DefaultFlowPollIntervalMs
	}
	if c.Flows.ClaimBatchSize <= 0 {
		c.Flows.ClaimBatchSize = constants.DefaultFlowClaimBatchSize
	}
	if c.Flows.MaxRetries <= 0 {
		c.Flows.MaxRetries = constants.DefaultFlowMaxRetries
	}
	if c.Flows.MaxNodeVisits <= 0 {
		c.Flows.MaxNodeVisits = constants.DefaultFlowMaxNodeVisits
	}
	if c.Flows.DelayMinSeconds <= 0 {
		c.Flows.DelayMinSeconds = constants.DefaultDelayMinSeconds
	}
	if c.Flows.DelayMaxSeconds <= 0 {
		c.Flows.DelayMaxSeconds = constants.DefaultDelayMaxSeconds
	}

	if c.RateLimit.DefaultPerMinute <= 0 {
		c.RateLimit.DefaultPerMinute = constants.DefaultRateLimitPerMinute
	}
	if c.RateLimit.BucketTTLMinutes <= 0 {
		c.RateLimit.BucketTTLMinutes = constants.DefaultBucketTTLMinutes
	}
	if c.RateLimit.SweepIntervalMin <= 0 {
		c.RateLimit.SweepIntervalMin = constants.DefaultBucketSweepMinutes
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Retention.Days <= 0 {
		c.Retention.Days = constants.DefaultRetentionDays
	}
	if c.Retention.SweepIntervalHours <= 0 {
		c.Retention.SweepIntervalHours = constants.DefaultRetentionSweepHours
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("WAFLOW_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("WAFLOW_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if token := os.Getenv("WAFLOW_WEBHOOK_VERIFY_TOKEN"); token != "" {
		c.Webhook.VerifyToken = token
	}

	// SECURITY: signing secrets belong in the environment, not the file
	if secret := os.Getenv("WAFLOW_WEBHOOK_SECRET"); secret != "" {
		c.Webhook.Secret = secret
	}

	if url := os.Getenv("WAFLOW_PROVIDER_API_URL"); url != "" {
		c.Provider.APIBaseURL = url
	}
	if url := os.Getenv("WAFLOW_NATS_URL"); url != "" {
		c.Queue.NATSURL = url
		c.Events.NATSURL = url
	}
	if driver := os.Getenv("WAFLOW_QUEUE_DRIVER"); driver != "" {
		c.Queue.Driver = driver
	}
	if driver := os.Getenv("WAFLOW_EVENTS_DRIVER"); driver != "" {
		c.Events.Driver = driver
	}
	if level := os.Getenv("WAFLOW_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// validateProduction enforces the settings a production deployment cannot
// run without. Outside production it only warns.
func validateProduction(c *models.Config) error {
	if os.Getenv("WAFLOW_ENV") != "production" {
		if c.Webhook.Secret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: webhook signing secret not set; POST /webhook is unauthenticated. Set WAFLOW_WEBHOOK_SECRET.\n")
		}
		return nil
	}

	if c.Webhook.VerifyToken == "" {
		return models.ConfigError{Message: "webhook verify token is required in production (set WAFLOW_WEBHOOK_VERIFY_TOKEN)"}
	}
	if len(c.Webhook.Secret) < 32 {
		return models.ConfigError{Message: "webhook signing secret must be at least 32 characters in production (set WAFLOW_WEBHOOK_SECRET)"}
	}
	if os.Getenv("WAFLOW_ENABLE_ENCRYPTION") != "true" {
		return models.ConfigError{Message: "credential encryption is required in production (set WAFLOW_ENABLE_ENCRYPTION=true)"}
	}
	if len(os.Getenv("WAFLOW_ENCRYPTION_SECRET")) < 32 {
		return models.ConfigError{Message: "WAFLOW_ENCRYPTION_SECRET must be at least 32 characters in production"}
	}
	if c.LogLevel == "debug" {
		return models.ConfigError{Message: "debug logging must not be enabled in production"}
	}

	return nil
}
