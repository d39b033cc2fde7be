// Package events is the internal announcement bus. Pipeline stages publish
// facts after committing them; delivery is best effort and never blocks or
// fails the publishing stage.
package events

import (
	"context"
	"fmt"
	"time"

	"waflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Type names a platform event.
type Type string

const (
	TypeMessageNew          Type = "message:new"
	TypeConversationNew     Type = "conversation:new"
	TypeConversationUpdated Type = "conversation:updated"
	TypeNotificationNew     Type = "notification:new"
)

// Event is one announced fact. ID doubles as the broker dedup key when
// the NATS driver mirrors the event.
type Event struct {
	ID       string      `json:"id"`
	Type     Type        `json:"type"`
	TenantID string      `json:"tenant_id"`
	At       time.Time   `json:"at"`
	Payload  interface{} `json:"payload,omitempty"`
}

// Notification is the payload of TypeNotificationNew.
type Notification struct {
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	RelatedID string `json:"related_id,omitempty"`
}

// Publisher is the side of the bus the pipeline sees.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Bus fans events out to in-process subscribers. Subscribe with an empty
// tenant id to receive every tenant's events; the returned cancel is
// idempotent.
type Bus interface {
	Publisher
	Subscribe(tenantID string) (<-chan Event, func())
	Close() error
}

// NewBus builds the bus driver the config names. The NATS driver keeps the
// in-process fan-out and mirrors every event to a subject, so external
// consumers and the websocket hub see the same stream.
func NewBus(cfg models.EventsConfig, logger *logrus.Logger) (Bus, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryBus(logger), nil
	case "nats":
		return NewNATSBus(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType Type, tenantID string, payload interface{}) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		TenantID: tenantID,
		At:       time.Now().UTC(),
		Payload:  payload,
	}
}
