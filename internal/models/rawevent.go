package models

import (
	"encoding/json"
	"time"
)

type RawEventStatus string

const (
	RawEventStatusPending    RawEventStatus = "PENDING"
	RawEventStatusProcessing RawEventStatus = "PROCESSING"
	RawEventStatusProcessed  RawEventStatus = "PROCESSED"
	RawEventStatusFailed     RawEventStatus = "FAILED"
)

// RawEvent is one webhook change value persisted verbatim before any
// processing happens. The ingestion gate writes it, the processor claims it.
type RawEvent struct {
	ID           string          `json:"id" db:"id"`
	TenantID     *string         `json:"tenant_id,omitempty" db:"tenant_id"`
	RoutingKey   string          `json:"routing_key" db:"routing_key"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	Status       RawEventStatus  `json:"status" db:"status"`
	RetryCount   int             `json:"retry_count" db:"retry_count"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}
