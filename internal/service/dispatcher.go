package service

import (
	"context"
	"fmt"
	"time"

	"waflow/internal/constants"
	apperrors "waflow/internal/errors"
	"waflow/internal/events"
	"waflow/internal/metrics"
	"waflow/internal/models"
	"waflow/internal/privacy"
	"waflow/internal/ratelimit"
	"waflow/internal/tracing"
	"waflow/pkg/circuitbreaker"
	"waflow/pkg/whatsapp"
	"waflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// MessageDispatcherStore is the slice of storage the dispatcher uses.
type MessageDispatcherStore interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetActiveCredential(ctx context.Context, tenantID string) (*models.Credential, error)
	DecryptAccessToken(cred *models.Credential) (string, error)
	InvalidateCredential(ctx context.Context, credentialID, reason string) error
	SetMessageSent(ctx context.Context, messageID, externalID string) error
	MarkMessageFailed(ctx context.Context, messageID, reason string) error
	TouchConversationOutbound(ctx context.Context, conversationID string, messageAt time.Time) error
}

// SendLimiter hands out send permits per tenant.
type SendLimiter interface {
	Allow(ctx context.Context, tenantID string, perMinute int) ratelimit.Decision
}

// MessageDispatcher delivers PENDING outbound messages to the provider.
// It consumes dispatch jobs, spends a rate-limit token per send, and
// classifies provider answers into retryable and permanent outcomes. All
// provider calls go through a circuit breaker that only counts
// infrastructure failures; a rejection means the provider is up.
type MessageDispatcher struct {
	db      MessageDispatcherStore
	limiter SendLimiter
	client  types.WAClient
	breaker *circuitbreaker.CircuitBreaker
	bus     events.Publisher
	logger  *logrus.Logger
	now     func() time.Time
}

func NewMessageDispatcher(db MessageDispatcherStore, limiter SendLimiter, client types.WAClient, cfg models.ProviderConfig, bus events.Publisher, logger *logrus.Logger) *MessageDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	threshold := cfg.BreakerFailureThreshold
	if threshold <= 0 {
		threshold = constants.DefaultBreakerFailureThreshold
	}
	cooldown := time.Duration(cfg.BreakerCooldownSec) * time.Second
	if cooldown <= 0 {
		cooldown = constants.DefaultBreakerCooldownSec * time.Second
	}

	breaker := circuitbreaker.New("provider", uint32(threshold), cooldown,
		circuitbreaker.WithLogger(logger),
		circuitbreaker.WithFailureFilter(func(err error) bool {
			return apperrors.GetCode(err) == apperrors.ErrCodeTransientInfra
		}),
	)

	return &MessageDispatcher{
		db:      db,
		limiter: limiter,
		client:  client,
		breaker: breaker,
		bus:     bus,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// BreakerStats exposes the provider breaker for health output.
func (d *MessageDispatcher) BreakerStats() circuitbreaker.Stats {
	return d.breaker.GetStats()
}

// DispatchMessage delivers one PENDING outbound message. It is the handler
// for dispatch jobs; a redelivered job for an already-sent message is a
// no-op. Retryable returns leave the message PENDING for the queue's next
// attempt; permanent outcomes mark it FAILED and ack.
func (d *MessageDispatcher) DispatchMessage(ctx context.Context, messageID string) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch_message", attribute.String("message_id", messageID))
	defer span.End()

	msg, err := d.db.GetMessage(ctx, messageID)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}
	if msg == nil {
		d.logger.WithField("message_id", privacy.MaskMessageID(messageID)).Warn("Dispatch job for unknown message")
		return nil
	}
	if msg.Status != models.MessageStatusPending {
		d.logger.WithFields(logrus.Fields{
			"message_id": privacy.MaskMessageID(msg.ID),
			"status":     string(msg.Status),
		}).Debug("Message no longer pending, dispatch skipped")
		return nil
	}

	conv, err := d.db.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}
	if conv == nil {
		return d.failPermanently(ctx, msg, "conversation no longer exists")
	}

	tenant, err := d.db.GetTenant(ctx, msg.TenantID)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}
	if tenant == nil || !tenant.IsActive {
		return d.failPermanently(ctx, msg, "tenant is missing or suspended")
	}

	if decision := d.limiter.Allow(ctx, tenant.ID, tenant.RateLimitPerMin); !decision.Allowed {
		metrics.RecordDispatch("rate_limited")
		d.logger.WithFields(logrus.Fields{
			"tenant_id":   tenant.ID,
			"retry_after": decision.RetryAfter.String(),
		}).Debug("Send denied by tenant rate limit")
		return apperrors.NewRateLimitedError(decision.RetryAfter)
	}

	cred, err := d.db.GetActiveCredential(ctx, tenant.ID)
	if err != nil {
		return apperrors.NewInfraError("database", err)
	}
	if cred == nil {
		d.notify(ctx, tenant.ID, events.Notification{
			Kind:      "credential_missing",
			Title:     "No valid provider credential",
			Body:      "Outbound messages cannot be delivered until a credential is configured.",
			RelatedID: msg.ID,
		})
		return d.failPermanently(ctx, msg, "no valid provider credential")
	}

	token, err := d.db.DecryptAccessToken(cred)
	if err != nil {
		return apperrors.NewInfraError("encryption", err)
	}

	req, err := buildSendRequest(msg, conv.ContactPhone)
	if err != nil {
		return d.failPermanently(ctx, msg, err.Error())
	}

	auth := types.SendAuth{AccessToken: token, PhoneNumberID: cred.PhoneNumberID}
	var resp *types.SendResponse
	sendErr := d.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = d.client.SendMessage(ctx, auth, req)
		return callErr
	})
	if sendErr != nil {
		tracing.RecordError(ctx, sendErr)
	}

	switch {
	case sendErr == nil:
		metrics.RecordDispatch("sent")
		return d.recordSent(ctx, msg, conv, resp)
	case circuitbreaker.IsCircuitBreakerError(sendErr):
		metrics.RecordDispatch("circuit_open")
		return apperrors.WrapRetryable(sendErr, apperrors.ErrCodeTransientInfra, "provider circuit open")
	case apperrors.GetCode(sendErr) == apperrors.ErrCodeProviderAuthInvalid:
		metrics.RecordDispatch("rejected")
		d.invalidateCredential(ctx, tenant.ID, cred, sendErr)
		return d.failPermanently(ctx, msg, sendErr.Error())
	case apperrors.IsPermanentRejection(sendErr):
		metrics.RecordDispatch("rejected")
		return d.failPermanently(ctx, msg, sendErr.Error())
	case apperrors.IsRetryable(sendErr):
		metrics.RecordDispatch("retried")
		return sendErr
	default:
		metrics.RecordDispatch("retried")
		return apperrors.WrapRetryable(sendErr, apperrors.ErrCodeTransientInfra, "provider send failed")
	}
}

func (d *MessageDispatcher) recordSent(ctx context.Context, msg *models.Message, conv *models.Conversation, resp *types.SendResponse) error {
	externalID := resp.MessageID()
	if err := d.db.SetMessageSent(ctx, msg.ID, externalID); err != nil {
		// The provider accepted the message; retrying the job would send it
		// twice. Surface the stuck row loudly and ack.
		d.logger.WithError(err).WithFields(logrus.Fields{
			"message_id":  privacy.MaskMessageID(msg.ID),
			"external_id": privacy.MaskMessageID(externalID),
		}).Error("Provider accepted message but status update failed")
		return nil
	}
	if err := d.db.TouchConversationOutbound(ctx, conv.ID, d.now()); err != nil {
		d.logger.WithError(err).WithField("conversation_id", conv.ID).Warn("Failed to touch conversation after send")
	}

	if d.bus != nil {
		d.bus.Publish(ctx, events.NewEvent(events.TypeConversationUpdated, msg.TenantID, map[string]interface{}{
			"conversation_id": conv.ID,
			"message_id":      msg.ID,
			"status":          string(models.MessageStatusSent),
		}))
	}

	d.logger.WithFields(logrus.Fields{
		"message_id":  privacy.MaskMessageID(msg.ID),
		"external_id": privacy.MaskMessageID(externalID),
		"phone":       privacy.MaskPhoneNumber(conv.ContactPhone),
		"type":        string(msg.Type),
	}).Info("Message dispatched")
	return nil
}

// failPermanently marks the message FAILED and acks the job; nothing a
// retry could fix.
func (d *MessageDispatcher) failPermanently(ctx context.Context, msg *models.Message, reason string) error {
	if err := d.db.MarkMessageFailed(ctx, msg.ID, reason); err != nil {
		return apperrors.NewInfraError("database", err)
	}
	d.logger.WithFields(logrus.Fields{
		"message_id": privacy.MaskMessageID(msg.ID),
		"reason":     reason,
	}).Warn("Outbound message failed permanently")
	return nil
}

func (d *MessageDispatcher) invalidateCredential(ctx context.Context, tenantID string, cred *models.Credential, sendErr error) {
	if err := d.db.InvalidateCredential(ctx, cred.ID, sendErr.Error()); err != nil {
		d.logger.WithError(err).WithField("credential_id", cred.ID).Error("Failed to invalidate rejected credential")
	} else {
		d.logger.WithFields(logrus.Fields{
			"tenant_id":     tenantID,
			"credential_id": cred.ID,
		}).Warn("Provider rejected credential, marked invalid")
	}
	d.notify(ctx, tenantID, events.Notification{
		Kind:      "credential_invalid",
		Title:     "Provider rejected credentials",
		Body:      "Sends are paused until the credential is replaced.",
		RelatedID: cred.ID,
	})
}

func (d *MessageDispatcher) notify(ctx context.Context, tenantID string, n events.Notification) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ctx, events.NewEvent(events.TypeNotificationNew, tenantID, n))
}

// buildSendRequest maps a stored message onto the provider wire shape.
func buildSendRequest(msg *models.Message, to string) (*types.SendRequest, error) {
	switch msg.Type {
	case models.MessageTypeText:
		return whatsapp.NewTextRequest(to, msg.Body), nil
	case models.MessageTypeImage, models.MessageTypeVideo, models.MessageTypeAudio, models.MessageTypeDocument:
		return whatsapp.NewMediaRequest(to, string(msg.Type), msg.MediaURL, msg.Caption, msg.Filename)
	case models.MessageTypeTemplate:
		if msg.TemplateName == "" {
			return nil, fmt.Errorf("template message without a template name")
		}
		return whatsapp.NewTemplateRequest(to, msg.TemplateName, msg.TemplateLang, msg.TemplateParams), nil
	case models.MessageTypeInteractive:
		buttons := make([]types.ButtonReply, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			buttons = append(buttons, types.ButtonReply{ID: b.ID, Title: b.Title})
		}
		return whatsapp.NewButtonsRequest(to, msg.Body, buttons)
	default:
		return nil, fmt.Errorf("message type %q cannot be sent", msg.Type)
	}
}
