package errors

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// entryFor decorates a log entry with the structured context an AppError
// carries.
func entryFor(logger *logrus.Logger, err error) *logrus.Entry {
	entry := logger.WithError(err)

	var appErr *AppError
	if errors.As(err, &appErr) {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})
		if appErr.RetryAfter > 0 {
			entry = entry.WithField("retry_after", appErr.RetryAfter.String())
		}
		for k, v := range appErr.Context {
			entry = entry.WithField(k, v)
		}
	}
	return entry
}

// LogError logs an error with its structured context at error level.
func LogError(logger *logrus.Logger, err error, message string, fields ...logrus.Fields) {
	entry := entryFor(logger, err)
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	entry.Error(message)
}

// LogRetryableError logs retryable errors at warn level (they will be tried
// again) and terminal ones at error level.
func LogRetryableError(logger *logrus.Logger, err error, message string, fields ...logrus.Fields) {
	entry := entryFor(logger, err)
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	if IsRetryable(err) {
		entry.Warn(message)
	} else {
		entry.Error(message)
	}
}
