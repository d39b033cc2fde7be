package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"waflow/internal/constants"
	apperrors "waflow/internal/errors"
	"waflow/internal/events"
	"waflow/internal/metrics"
	"waflow/internal/models"
	"waflow/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ProcessorStore is the database surface the event processor needs.
type ProcessorStore interface {
	ClaimRawEvent(ctx context.Context, id string, maxAttempts int) (bool, error)
	GetRawEvent(ctx context.Context, id string) (*models.RawEvent, error)
	MarkRawEventProcessed(ctx context.Context, id string) error
	MarkRawEventFailed(ctx context.Context, id string, errMsg string) error
	GetMessageByExternalID(ctx context.Context, tenantID, externalID string) (*models.Message, error)
	UpsertContact(ctx context.Context, tenantID, phone, name string) (*models.Contact, error)
	UpsertConversation(ctx context.Context, tenantID, contactPhone string, messageAt time.Time) (*models.Conversation, bool, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	ApplyMessageStatus(ctx context.Context, tenantID, externalID string, next models.MessageStatus, errorMessage *string) (bool, error)
	UpsertTemplateStatus(ctx context.Context, tenantID, name, language, externalID string, status models.TemplateStatus, rejectionReason *string) error
}

// EventProcessor turns claimed raw events into domain state: contacts,
// conversations, messages, status transitions and flow triggers. Processing
// is idempotent per provider message id, so a redelivered webhook or a
// retried event leaves the same end state.
type EventProcessor struct {
	db          ProcessorStore
	resolver    *TenantResolver
	triggers    *FlowTrigger
	bus         events.Publisher
	limiter     *rate.Limiter
	maxAttempts int
	logger      *logrus.Logger
}

func NewEventProcessor(db ProcessorStore, resolver *TenantResolver, triggers *FlowTrigger, bus events.Publisher, cfg models.ProcessorConfig, maxAttempts int, logger *logrus.Logger) *EventProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	eventsPerSecond := cfg.EventsPerSecond
	if eventsPerSecond <= 0 {
		eventsPerSecond = constants.DefaultEventsPerSecond
	}
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultMaxAttempts
	}
	return &EventProcessor{
		db:          db,
		resolver:    resolver,
		triggers:    triggers,
		bus:         bus,
		limiter:     rate.NewLimiter(rate.Limit(eventsPerSecond), eventsPerSecond),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// ProcessRawEvent is the raw-event job handler. A nil return acknowledges
// the job; a returned error asks the queue to redeliver with backoff. The
// conditional claim makes redelivery of finished or in-flight events a
// no-op, and abandons events once their attempts are spent.
func (p *EventProcessor) ProcessRawEvent(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "process_raw_event", attribute.String("raw_event_id", id))
	defer span.End()

	// Global throughput cap across all workers.
	if err := p.limiter.Wait(ctx); err != nil {
		return apperrors.WrapRetryable(err, apperrors.ErrCodeTransientInfra, "processor throttle interrupted")
	}

	claimed, err := p.db.ClaimRawEvent(ctx, id, p.maxAttempts)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}
	if !claimed {
		p.logger.WithField("event_id", id).Debug("Raw event not claimable, skipping")
		return nil
	}

	event, err := p.db.GetRawEvent(ctx, id)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}
	if event == nil {
		p.logger.WithField("event_id", id).Warn("Claimed raw event vanished")
		return nil
	}

	started := time.Now()
	if err := p.process(ctx, event); err != nil {
		if markErr := p.db.MarkRawEventFailed(ctx, id, err.Error()); markErr != nil {
			p.logger.WithField("event_id", id).WithError(markErr).Error("Failed to mark raw event failed")
		}
		apperrors.LogError(p.logger, err, "Raw event processing failed", logrus.Fields{
			"event_id":    id,
			"retry_count": event.RetryCount,
		})
		tracing.RecordError(ctx, err)
		metrics.RecordEventProcessed(string(models.RawEventStatusFailed), time.Since(started))
		return err
	}

	if err := p.db.MarkRawEventProcessed(ctx, id); err != nil {
		return apperrors.NewInfraError("database", err)
	}
	metrics.RecordEventProcessed(string(models.RawEventStatusProcessed), time.Since(started))
	return nil
}

func (p *EventProcessor) process(ctx context.Context, event *models.RawEvent) error {
	if event.TenantID == nil {
		return apperrors.NewUnresolvedTenantError(event.RoutingKey)
	}

	tenant, err := p.resolver.ResolveID(ctx, *event.TenantID)
	if err != nil {
		return err
	}
	if !tenant.IsActive {
		// Suspended tenants keep their audit trail but produce no domain
		// writes.
		p.logger.WithFields(logrus.Fields{
			"event_id":  event.ID,
			"tenant_id": tenant.ID,
		}).Debug("Tenant inactive, raw event dropped")
		return nil
	}

	var value models.ChangeValue
	if err := json.Unmarshal(event.Payload, &value); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeMalformedPayload, "undecodable raw event payload")
	}

	for i := range value.Messages {
		if err := p.processMessage(ctx, tenant, &value, &value.Messages[i]); err != nil {
			return err
		}
	}
	for i := range value.Statuses {
		if err := p.processStatus(ctx, tenant, &value.Statuses[i]); err != nil {
			return err
		}
	}
	if value.MessageTemplateName != "" {
		if err := p.processTemplateStatus(ctx, tenant, &value); err != nil {
			return err
		}
	}
	return nil
}

func (p *EventProcessor) processMessage(ctx context.Context, tenant *models.Tenant, value *models.ChangeValue, inbound *models.InboundMessage) error {
	if inbound.ID == "" {
		p.logger.WithField("tenant_id", tenant.ID).Warn("Inbound message without provider id, skipping")
		return nil
	}

	existing, err := p.db.GetMessageByExternalID(ctx, tenant.ID, inbound.ID)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}
	if existing != nil {
		p.logger.WithFields(logrus.Fields{
			"tenant_id":  tenant.ID,
			"message_id": messageIDField(ctx, inbound.ID),
		}).Debug("Duplicate inbound message skipped")
		return nil
	}

	phone := models.NormalizePhone(inbound.From)
	name := value.ProfileNameFor(inbound.From)

	if _, err := p.db.UpsertContact(ctx, tenant.ID, phone, name); err != nil {
		return apperrors.NewInfraError("database", err)
	}
	conv, created, err := p.db.UpsertConversation(ctx, tenant.ID, phone, inbound.SentAt())
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}

	msg := p.buildInboundMessage(tenant.ID, conv.ID, inbound)
	if err := p.db.InsertMessage(ctx, msg); err != nil {
		return apperrors.NewInfraError("database", err)
	}

	p.logger.WithFields(logrus.Fields{
		"tenant_id":  tenant.ID,
		"message_id": messageIDField(ctx, inbound.ID),
		"phone":      phoneField(ctx, phone),
		"type":       msg.Type,
	}).Info("Inbound message stored")

	if p.bus != nil {
		p.bus.Publish(ctx, events.NewEvent(events.TypeMessageNew, tenant.ID, msg))
		if created {
			p.bus.Publish(ctx, events.NewEvent(events.TypeConversationNew, tenant.ID, conv))
		} else {
			p.bus.Publish(ctx, events.NewEvent(events.TypeConversationUpdated, tenant.ID, conv))
		}
	}

	return p.fireTriggers(ctx, tenant, inbound, phone, name, created)
}

// fireTriggers routes the message into the flow layer. A reply button that
// carries flow coordinates resumes its flow; everything else goes through
// keyword matching, plus the new-conversation triggers when this message
// opened the thread.
func (p *EventProcessor) fireTriggers(ctx context.Context, tenant *models.Tenant, inbound *models.InboundMessage, phone, name string, created bool) error {
	if buttonID := inbound.ButtonReplyID(); buttonID != "" {
		if ref, ok := DecodeButtonID(buttonID); ok {
			if _, err := p.triggers.ResumeFromButton(ctx, tenant.ID, phone, name, inbound.ButtonReplyTitle(), ref); err != nil {
				return apperrors.NewInfraError("database", err)
			}
			return nil
		}
	}

	if created {
		if _, err := p.triggers.TriggerNewConversation(ctx, tenant.ID, phone, name); err != nil {
			return apperrors.NewInfraError("database", err)
		}
	}
	if _, err := p.triggers.MatchKeywordTriggers(ctx, tenant.ID, phone, name, triggerText(inbound)); err != nil {
		return apperrors.NewInfraError("database", err)
	}
	return nil
}

// triggerText is the human-typed content keyword matching runs against.
func triggerText(inbound *models.InboundMessage) string {
	switch {
	case inbound.Text != nil:
		return inbound.Text.Body
	case inbound.ButtonReplyID() != "":
		return inbound.ButtonReplyTitle()
	case inbound.Image != nil:
		return inbound.Image.Caption
	case inbound.Video != nil:
		return inbound.Video.Caption
	case inbound.Document != nil:
		return inbound.Document.Caption
	}
	return ""
}

// buildInboundMessage classifies the provider payload into a message row.
// Unknown types are stored as empty text so the conversation history keeps
// its place in the timeline.
func (p *EventProcessor) buildInboundMessage(tenantID, conversationID string, inbound *models.InboundMessage) *models.Message {
	msg := &models.Message{
		TenantID:       tenantID,
		ConversationID: conversationID,
		ExternalID:     inbound.ID,
		Direction:      models.MessageDirectionInbound,
		Status:         models.MessageStatusDelivered,
		Timestamp:      inbound.SentAt(),
	}

	switch {
	case inbound.Text != nil:
		msg.Type = models.MessageTypeText
		msg.Body = inbound.Text.Body
	case inbound.Image != nil:
		fillMedia(msg, models.MessageTypeImage, inbound.Image)
	case inbound.Video != nil:
		fillMedia(msg, models.MessageTypeVideo, inbound.Video)
	case inbound.Audio != nil:
		fillMedia(msg, models.MessageTypeAudio, inbound.Audio)
	case inbound.Document != nil:
		fillMedia(msg, models.MessageTypeDocument, inbound.Document)
	case inbound.Location != nil:
		msg.Type = models.MessageTypeLocation
		msg.Body = formatLocation(inbound.Location)
	case len(inbound.Contacts) > 0:
		msg.Type = models.MessageTypeContactCard
		msg.Body = formatContactCards(inbound.Contacts)
	case inbound.ButtonReplyID() != "":
		msg.Type = models.MessageTypeInteractive
		msg.Body = inbound.ButtonReplyTitle()
	default:
		msg.Type = models.MessageTypeText
		p.logger.WithFields(logrus.Fields{
			"provider_type": inbound.Type,
			"message_id":    inbound.ID,
		}).Warn("Unknown inbound message type stored as empty text")
	}
	return msg
}

func fillMedia(msg *models.Message, msgType models.MessageType, media *models.MediaContent) {
	msg.Type = msgType
	msg.MediaURL = media.Link
	msg.MediaMimeType = media.MimeType
	msg.Caption = media.Caption
	msg.Filename = media.Filename
}

func formatLocation(loc *models.LocationContent) string {
	body := fmt.Sprintf("%.6f,%.6f", loc.Latitude, loc.Longitude)
	if loc.Name != "" {
		body = loc.Name + " " + body
	}
	if loc.Address != "" {
		body += " (" + loc.Address + ")"
	}
	return body
}

func formatContactCards(cards []models.ContactCard) string {
	names := make([]string, 0, len(cards))
	for _, c := range cards {
		if c.Name.FormattedName != "" {
			names = append(names, c.Name.FormattedName)
		}
	}
	return strings.Join(names, ", ")
}

func (p *EventProcessor) processStatus(ctx context.Context, tenant *models.Tenant, status *models.StatusUpdate) error {
	next, ok := mapProviderStatus(status.Status)
	if !ok {
		p.logger.WithFields(logrus.Fields{
			"tenant_id": tenant.ID,
			"status":    status.Status,
		}).Warn("Unknown provider status, skipping")
		return nil
	}

	msg, err := p.db.GetMessageByExternalID(ctx, tenant.ID, status.ID)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}
	if msg == nil {
		// Statuses can reference messages sent before we kept history.
		p.logger.WithFields(logrus.Fields{
			"tenant_id":  tenant.ID,
			"message_id": messageIDField(ctx, status.ID),
		}).Debug("Status update for unknown message, skipping")
		return nil
	}

	var errorMessage *string
	if next == models.MessageStatusFailed && len(status.Errors) > 0 {
		first := providerErrorString(&status.Errors[0])
		errorMessage = &first
	}

	changed, err := p.db.ApplyMessageStatus(ctx, tenant.ID, status.ID, next, errorMessage)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}
	if !changed {
		p.logger.WithFields(logrus.Fields{
			"tenant_id":  tenant.ID,
			"message_id": messageIDField(ctx, status.ID),
			"from":       msg.Status,
			"to":         next,
		}).Debug("Stale status update ignored")
		return nil
	}

	if p.bus != nil {
		p.bus.Publish(ctx, events.NewEvent(events.TypeConversationUpdated, tenant.ID, map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
			"status":          next,
		}))
	}
	return nil
}

func mapProviderStatus(s string) (models.MessageStatus, bool) {
	switch strings.ToLower(s) {
	case "sent":
		return models.MessageStatusSent, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "read":
		return models.MessageStatusRead, true
	case "failed":
		return models.MessageStatusFailed, true
	}
	return "", false
}

func providerErrorString(pe *models.ProviderError) string {
	text := pe.Title
	if pe.Message != "" {
		text = pe.Message
	}
	return fmt.Sprintf("%d: %s", pe.Code, text)
}

func (p *EventProcessor) processTemplateStatus(ctx context.Context, tenant *models.Tenant, value *models.ChangeValue) error {
	status, ok := mapTemplateEvent(value.Event)
	if !ok {
		p.logger.WithFields(logrus.Fields{
			"tenant_id": tenant.ID,
			"template":  value.MessageTemplateName,
			"event":     value.Event,
		}).Warn("Unknown template event, skipping")
		return nil
	}

	var reason *string
	if status == models.TemplateStatusRejected && value.Reason != "" {
		reason = &value.Reason
	}

	err := p.db.UpsertTemplateStatus(ctx, tenant.ID,
		value.MessageTemplateName, value.MessageTemplateLanguage, value.MessageTemplateID,
		status, reason)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}

	p.logger.WithFields(logrus.Fields{
		"tenant_id": tenant.ID,
		"template":  value.MessageTemplateName,
		"status":    status,
	}).Info("Template status updated")
	return nil
}

func mapTemplateEvent(event string) (models.TemplateStatus, bool) {
	switch strings.ToUpper(event) {
	case "APPROVED":
		return models.TemplateStatusApproved, true
	case "REJECTED":
		return models.TemplateStatusRejected, true
	case "PENDING":
		return models.TemplateStatusPending, true
	case "PAUSED":
		return models.TemplateStatusPaused, true
	}
	return "", false
}
