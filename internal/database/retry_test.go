package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"database locked", errors.New("database is locked"), true},
		{"table locked", errors.New("database table is locked"), true},
		{"disk io", errors.New("disk I/O error"), true},
		{"unique constraint", errors.New("UNIQUE constraint failed: messages.external_id"), false},
		{"foreign key", errors.New("FOREIGN KEY constraint failed"), false},
		{"missing table", errors.New("no such table: nope"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"generic", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryableDBError(tt.err))
		})
	}
}

func TestIsUniqueConstraintError(t *testing.T) {
	assert.True(t, IsUniqueConstraintError(errors.New("UNIQUE constraint failed: messages.external_id")))
	assert.False(t, IsUniqueConstraintError(errors.New("database is locked")))
	assert.False(t, IsUniqueConstraintError(nil))
}

func TestRetryableDBOperation_NonRetryableFailsFast(t *testing.T) {
	calls := 0
	err := retryableDBOperationNoReturn(context.Background(), func() error {
		calls++
		return errors.New("UNIQUE constraint failed: messages.external_id")
	}, "insert message")

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "non-retryable")
}

func TestRetryableDBOperation_Succeeds(t *testing.T) {
	calls := 0
	err := retryableDBOperationNoReturn(context.Background(), func() error {
		calls++
		return nil
	}, "noop")

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryableDBOperation_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryableDBOperationNoReturn(ctx, func() error {
		return errors.New("database is locked")
	}, "locked op")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
