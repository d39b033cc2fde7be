// Package queue carries jobs between pipeline stages. Jobs are tiny
// pointers (kind + row id); the durable state lives in the database, so a
// lost job is recoverable and a redelivered one is harmless.
package queue

import (
	"context"
	"fmt"
	"time"

	"waflow/internal/constants"
	"waflow/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	// KindRawEvent points at a raw_events row awaiting processing.
	KindRawEvent = "raw_event"
	// KindDispatchMessage points at a PENDING outbound messages row.
	KindDispatchMessage = "dispatch_message"
)

// Job names one unit of work. ID doubles as the dedup key within the
// configured window.
type Job struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Handler processes one job. Returning nil acks the job. A retryable error
// (see apperrors.IsRetryable) schedules a redelivery with backoff until the
// attempt budget is spent; any other error drops the job for good.
type Handler func(ctx context.Context, job Job) error

// Queue is the transport between pipeline stages. Subscribe all kinds
// before Start; Enqueue is safe from any goroutine once Start returned.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Subscribe(kind string, workers int, handler Handler) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// New builds the queue driver the config names.
func New(cfg models.QueueConfig, logger *logrus.Logger) (Queue, error) {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultMaxAttempts
	}
	dedupWindow := time.Duration(cfg.DedupWindowMin) * time.Minute
	if dedupWindow <= 0 {
		dedupWindow = constants.DefaultDedupWindowMin * time.Minute
	}

	switch cfg.Driver {
	case "", "memory":
		bufferSize := cfg.BufferSize
		if bufferSize <= 0 {
			bufferSize = constants.DefaultQueueBufferSize
		}
		return NewMemoryQueue(MemoryConfig{
			BufferSize:  bufferSize,
			MaxAttempts: maxAttempts,
			DedupWindow: dedupWindow,
		}, logger), nil
	case "nats":
		return NewNATSQueue(NATSConfig{
			URL:          cfg.NATSURL,
			StreamPrefix: cfg.StreamPrefix,
			MaxAttempts:  maxAttempts,
			DedupWindow:  dedupWindow,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}
