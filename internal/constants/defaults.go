package constants

// Default queue and worker configuration values
const (
	DefaultProcessorWorkers = 4
	DefaultDispatchWorkers  = 4
	DefaultMaxAttempts      = 5
	DefaultEventsPerSecond  = 100
	DefaultRetryBackoffMs   = 1000
	DefaultMaxBackoffMs     = 60000
	DefaultQueueBufferSize  = 1024
	DefaultDedupWindowMin   = 10
	DefaultServerPort       = 8082
)

// Default flow engine configuration values
const (
	DefaultFlowPollIntervalMs   = 1000
	DefaultFlowClaimBatchSize   = 10
	DefaultFlowMaxRetries       = 3
	DefaultFlowMaxNodeVisits    = 256
	DefaultDelayMinSeconds      = 1
	DefaultDelayMaxSeconds      = 300
	DefaultMaxMessageButtons    = 3
	DefaultTemplateVarMaxLength = 1024
)

// Default rate limiter configuration values
const (
	DefaultRateLimitPerMinute = 60
	DefaultBucketTTLMinutes   = 30
	DefaultBucketSweepMinutes = 10
	DefaultBucketCASAttempts  = 5
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultGracefulShutdownSec   = 30
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxSec         = 5
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultProviderTimeoutSec    = 30
	DefaultTenantCacheTTLMin     = 5
)

// Default circuit breaker settings for the provider send endpoint
const (
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerCooldownSec      = 30
)

// Default retention sweep configuration values
const (
	DefaultRetentionDays       = 30
	DefaultRetentionSweepHours = 6
	DefaultStalePendingMinutes = 60
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Default webhook limits
const (
	DefaultMaxWebhookBodyBytes = 1 << 20 // 1 MiB
	DefaultMaxWebhookSkewSec   = 300
)
