package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsVerboseLogging(t *testing.T) {
	assert.False(t, IsVerboseLogging(context.Background()))

	ctx := context.WithValue(context.Background(), VerboseContextKey, true)
	assert.True(t, IsVerboseLogging(ctx))

	ctx = context.WithValue(context.Background(), VerboseContextKey, false)
	assert.False(t, IsVerboseLogging(ctx))

	// wrong value type falls back to quiet
	ctx = context.WithValue(context.Background(), VerboseContextKey, "yes")
	assert.False(t, IsVerboseLogging(ctx))
}

func TestFieldMasking(t *testing.T) {
	quiet := context.Background()
	verbose := context.WithValue(context.Background(), VerboseContextKey, true)

	assert.Equal(t, "*******1234", phoneField(quiet, "15550001234"))
	assert.Equal(t, "15550001234", phoneField(verbose, "15550001234"))

	masked := messageIDField(quiet, "wamid.HBgLMTU1NTAwMDExMTE=")
	assert.NotEqual(t, "wamid.HBgLMTU1NTAwMDExMTE=", masked)
	assert.Equal(t, "wamid.HBgLMTU1NTAwMDExMTE=", messageIDField(verbose, "wamid.HBgLMTU1NTAwMDExMTE="))

	assert.NotEqual(t, "15550001111", routingKeyField(quiet, "15550001111"))
	assert.Equal(t, "15550001111", routingKeyField(verbose, "15550001111"))
}
