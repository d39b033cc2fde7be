package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"waflow/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `{"database": {"path": "/tmp/waflow.db"}}`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfigFile(t, minimalConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/waflow.db", cfg.Database.Path)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, "memory", cfg.Events.Driver)
	assert.Equal(t, constants.DefaultMaxAttempts, cfg.Queue.MaxAttempts)
	assert.Equal(t, constants.DefaultProcessorWorkers, cfg.Processor.Workers)
	assert.Equal(t, constants.DefaultRateLimitPerMinute, cfg.RateLimit.DefaultPerMinute)
	assert.Equal(t, constants.DefaultFlowPollIntervalMs, cfg.Flows.PollIntervalMs)
	assert.Equal(t, constants.DefaultBreakerFailureThreshold, cfg.Provider.BreakerFailureThreshold)
	assert.Equal(t, int64(constants.DefaultMaxWebhookBodyBytes), cfg.Webhook.MaxBodyBytes)
	assert.Equal(t, constants.DefaultRetentionDays, cfg.Retention.Days)
	assert.Equal(t, constants.DefaultRetentionSweepHours, cfg.Retention.SweepIntervalHours)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_FileValuesWin(t *testing.T) {
	path := writeConfigFile(t, `{
		"database": {"path": "/tmp/waflow.db"},
		"server": {"port": 9000},
		"queue": {"driver": "memory", "max_attempts": 7},
		"rate_limit": {"default_per_minute": 120},
		"log_level": "warn"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Queue.MaxAttempts)
	assert.Equal(t, 120, cfg.RateLimit.DefaultPerMinute)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_MissingDBPath(t *testing.T) {
	path := writeConfigFile(t, `{}`)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingDBPath)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, minimalConfig)

	t.Setenv("WAFLOW_SERVER_PORT", "9099")
	t.Setenv("WAFLOW_WEBHOOK_VERIFY_TOKEN", "tok-from-env")
	t.Setenv("WAFLOW_WEBHOOK_SECRET", "secret-from-env")
	t.Setenv("WAFLOW_PROVIDER_API_URL", "https://graph.example.test")
	t.Setenv("WAFLOW_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("WAFLOW_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9099, cfg.Server.Port)
	assert.Equal(t, "tok-from-env", cfg.Webhook.VerifyToken)
	assert.Equal(t, "secret-from-env", cfg.Webhook.Secret)
	assert.Equal(t, "https://graph.example.test", cfg.Provider.APIBaseURL)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Queue.NATSURL)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Events.NATSURL)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_EnvDBPath(t *testing.T) {
	path := writeConfigFile(t, `{}`)
	t.Setenv("WAFLOW_DB_PATH", "/tmp/waflow-env.db")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/waflow-env.db", cfg.Database.Path)
}

func TestLoadConfig_UnknownQueueDriver(t *testing.T) {
	path := writeConfigFile(t, `{"database": {"path": "/tmp/waflow.db"}, "queue": {"driver": "rabbit"}}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown queue driver")
}

func TestLoadConfig_NATSDriverRequiresURL(t *testing.T) {
	path := writeConfigFile(t, `{"database": {"path": "/tmp/waflow.db"}, "queue": {"driver": "nats"}}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats_url")
}

func TestLoadConfig_ProductionHardening(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing verify token",
			env:     map[string]string{},
			wantErr: "verify token",
		},
		{
			name: "short webhook secret",
			env: map[string]string{
				"WAFLOW_WEBHOOK_VERIFY_TOKEN": "tok",
				"WAFLOW_WEBHOOK_SECRET":       "short",
			},
			wantErr: "32 characters",
		},
		{
			name: "encryption disabled",
			env: map[string]string{
				"WAFLOW_WEBHOOK_VERIFY_TOKEN": "tok",
				"WAFLOW_WEBHOOK_SECRET":       strings.Repeat("s", 32),
			},
			wantErr: "WAFLOW_ENABLE_ENCRYPTION",
		},
		{
			name: "short encryption secret",
			env: map[string]string{
				"WAFLOW_WEBHOOK_VERIFY_TOKEN": "tok",
				"WAFLOW_WEBHOOK_SECRET":       strings.Repeat("s", 32),
				"WAFLOW_ENABLE_ENCRYPTION":    "true",
				"WAFLOW_ENCRYPTION_SECRET":    "short",
			},
			wantErr: "WAFLOW_ENCRYPTION_SECRET",
		},
		{
			name: "debug logging",
			env: map[string]string{
				"WAFLOW_WEBHOOK_VERIFY_TOKEN": "tok",
				"WAFLOW_WEBHOOK_SECRET":       strings.Repeat("s", 32),
				"WAFLOW_ENABLE_ENCRYPTION":    "true",
				"WAFLOW_ENCRYPTION_SECRET":    strings.Repeat("e", 32),
				"WAFLOW_LOG_LEVEL":            "debug",
			},
			wantErr: "debug logging",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WAFLOW_ENV", "production")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := writeConfigFile(t, minimalConfig)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_ProductionComplete(t *testing.T) {
	t.Setenv("WAFLOW_ENV", "production")
	t.Setenv("WAFLOW_WEBHOOK_VERIFY_TOKEN", "tok")
	t.Setenv("WAFLOW_WEBHOOK_SECRET", strings.Repeat("s", 32))
	t.Setenv("WAFLOW_ENABLE_ENCRYPTION", "true")
	t.Setenv("WAFLOW_ENCRYPTION_SECRET", strings.Repeat("e", 32))

	path := writeConfigFile(t, minimalConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Webhook.VerifyToken)
}

func TestLoadConfig_RejectsTraversalPath(t *testing.T) {
	_, err := LoadConfig("../../../etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config path")
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeConfigFile(t, `{not json`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}
