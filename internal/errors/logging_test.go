package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRetryableError_Levels(t *testing.T) {
	logger, hook := test.NewNullLogger()

	LogRetryableError(logger, NewRateLimitedError(2*time.Second), "dispatch deferred")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, ErrCodeProviderRateLimited, hook.LastEntry().Data["error_code"])
	assert.Equal(t, "2s", hook.LastEntry().Data["retry_after"])

	hook.Reset()

	LogRetryableError(logger, NewBadParameterError("unknown recipient"), "dispatch failed")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestLogError_IncludesAppErrorContext(t *testing.T) {
	logger, hook := test.NewNullLogger()

	err := NewInfraError("database", errors.New("disk I/O error"))
	LogError(logger, err, "claim failed", logrus.Fields{"raw_event_id": "re-1"})

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "database", entry.Data["subsystem"])
	assert.Equal(t, true, entry.Data["retryable"])
	assert.Equal(t, "re-1", entry.Data["raw_event_id"])
}
