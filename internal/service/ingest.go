package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	apperrors "waflow/internal/errors"
	"waflow/internal/models"
	"waflow/internal/queue"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RawEventStore defines the database operations needed by the ingestion gate
type RawEventStore interface {
	SaveRawEvent(ctx context.Context, event *models.RawEvent) error
}

// JobEnqueuer is the queue slice the gate needs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// IngestResult summarizes what one delivery produced. The HTTP handler
// answers 2xx regardless; the counters feed logs and metrics.
type IngestResult struct {
	Accepted int
	Unrouted int
	Failed   int
}

// IngestService is the webhook ingestion gate: it verifies the subscription
// handshake and turns POST deliveries into durable raw events plus
// processing jobs. It never touches domain state itself.
type IngestService struct {
	db          RawEventStore
	queue       JobEnqueuer
	resolver    *TenantResolver
	verifyToken string
	logger      *logrus.Logger
}

func NewIngestService(db RawEventStore, q JobEnqueuer, resolver *TenantResolver, verifyToken string, logger *logrus.Logger) *IngestService {
	return &IngestService{
		db:          db,
		queue:       q,
		resolver:    resolver,
		verifyToken: verifyToken,
		logger:      logger,
	}
}

// VerifyHandshake checks the provider's GET subscription handshake and
// returns the challenge to echo. An unconfigured token never verifies.
func (s *IngestService) VerifyHandshake(mode, verifyToken, challenge string) (string, bool) {
	if mode != "subscribe" {
		return "", false
	}
	if s.verifyToken == "" || verifyToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(verifyToken), []byte(s.verifyToken)) != 1 {
		return "", false
	}
	return challenge, true
}

// HandleDelivery parses a POST delivery body and persists one raw event per
// change value. A body that does not parse is the only error return; once
// the envelope parses, per-value failures are absorbed into the result so
// the provider is never told to redeliver something already accepted.
func (s *IngestService) HandleDelivery(ctx context.Context, body []byte) (*IngestResult, error) {
	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedPayload, "undecodable webhook body")
	}

	result := &IngestResult{}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			s.ingestValue(ctx, &change.Value, result)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"entries":  len(payload.Entry),
		"accepted": result.Accepted,
		"unrouted": result.Unrouted,
		"failed":   result.Failed,
	}).Debug("Webhook delivery ingested")

	return result, nil
}

// ingestValue persists one change value and enqueues its processing job.
// Persist-first: the raw event row exists before anything else happens.
func (s *IngestService) ingestValue(ctx context.Context, value *models.ChangeValue, result *IngestResult) {
	routingKey := value.Metadata.RoutingKey

	payload, err := json.Marshal(value)
	if err != nil {
		result.Failed++
		s.logger.WithError(err).Error("Failed to re-encode change value")
		return
	}

	event := &models.RawEvent{
		ID:         uuid.New().String(),
		RoutingKey: routingKey,
		Payload:    payload,
		Status:     models.RawEventStatusPending,
	}

	tenant, resolveErr := s.resolver.ResolveRoutingKey(ctx, routingKey)
	if tenant != nil {
		event.TenantID = &tenant.ID
	} else {
		// Nothing can process an event without a tenant; keep the row for
		// the audit trail but park it as failed.
		event.Status = models.RawEventStatusFailed
		msg := fmt.Sprintf("unresolved routing key: %v", resolveErr)
		event.ErrorMessage = &msg
	}

	if err := s.db.SaveRawEvent(ctx, event); err != nil {
		result.Failed++
		apperrors.LogError(s.logger, err, "Failed to persist raw event", logrus.Fields{
			"routing_key": routingKeyField(ctx, routingKey),
		})
		return
	}

	if tenant == nil {
		result.Unrouted++
		s.logger.WithFields(logrus.Fields{
			"raw_event_id": event.ID,
			"routing_key":  routingKeyField(ctx, routingKey),
		}).Warn("Webhook value for unknown routing key stored as failed")
		return
	}

	job := queue.Job{Kind: queue.KindRawEvent, ID: event.ID}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		// The event row stays PENDING; the janitor or a manual requeue can
		// still pick it up, so this is a degraded accept rather than a loss.
		result.Failed++
		apperrors.LogError(s.logger, err, "Failed to enqueue processing job", logrus.Fields{
			"raw_event_id": event.ID,
		})
		return
	}

	result.Accepted++
}
