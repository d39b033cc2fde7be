package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"waflow/internal/models"

	"github.com/google/uuid"
)

// UpsertContact creates the contact for (tenant, phone) or refreshes its
// name. An empty inbound profile name never blanks a name we already have.
func (d *Database) UpsertContact(ctx context.Context, tenantID, phone, name string) (*models.Contact, error) {
	phone = models.NormalizePhone(phone)
	if phone == "" {
		return nil, fmt.Errorf("contact phone is empty after normalization")
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO contacts (id, tenant_id, phone, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, phone) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			updated_at = excluded.updated_at
	`

	err := retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, uuid.NewString(), tenantID, phone, name, now, now)
		return err
	}, "upsert contact")
	if err != nil {
		return nil, err
	}

	var c models.Contact
	err = d.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, phone, name, created_at, updated_at FROM contacts WHERE tenant_id = ? AND phone = ?`,
		tenantID, phone,
	).Scan(&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read back contact: %w", err)
	}
	return &c, nil
}

// GetContact returns the contact for (tenant, phone) or nil.
func (d *Database) GetContact(ctx context.Context, tenantID, phone string) (*models.Contact, error) {
	var c models.Contact
	err := d.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, phone, name, created_at, updated_at FROM contacts WHERE tenant_id = ? AND phone = ?`,
		tenantID, models.NormalizePhone(phone),
	).Scan(&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &c, nil
}

// UpsertConversation returns the single conversation for (tenant, contact
// phone), creating it when absent, and reports whether this call created
// it. For inbound traffic it reopens the thread and bumps the unread
// counter; the UNIQUE constraint keeps concurrent processors from ever
// materializing a second thread.
func (d *Database) UpsertConversation(ctx context.Context, tenantID, contactPhone string, messageAt time.Time) (*models.Conversation, bool, error) {
	contactPhone = models.NormalizePhone(contactPhone)
	now := time.Now().UTC()
	if messageAt.IsZero() {
		messageAt = now
	}

	insert := `
		INSERT INTO conversations (id, tenant_id, contact_phone, status, unread_count, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(tenant_id, contact_phone) DO NOTHING
	`

	created := false
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, insert,
			uuid.NewString(), tenantID, contactPhone, models.ConversationStatusOpen, messageAt, now, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1
		return nil
	}, "upsert conversation")
	if err != nil {
		return nil, false, err
	}

	update := `
		UPDATE conversations
		SET status = ?, unread_count = unread_count + 1,
		    last_message_at = CASE WHEN last_message_at < ? THEN ? ELSE last_message_at END,
		    updated_at = ?
		WHERE tenant_id = ? AND contact_phone = ?
	`
	err = retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, update,
			models.ConversationStatusOpen, messageAt, messageAt, now, tenantID, contactPhone)
		return err
	}, "bump conversation")
	if err != nil {
		return nil, false, err
	}

	conv, err := d.GetConversationByPhone(ctx, tenantID, contactPhone)
	if err != nil {
		return nil, false, err
	}
	if conv == nil {
		return nil, false, fmt.Errorf("conversation vanished after upsert for tenant %s", tenantID)
	}
	return conv, created, nil
}

// TouchConversationOutbound advances last_message_at for an outbound send
// without touching status or the unread counter.
func (d *Database) TouchConversationOutbound(ctx context.Context, conversationID string, messageAt time.Time) error {
	if messageAt.IsZero() {
		messageAt = time.Now().UTC()
	}
	query := `
		UPDATE conversations
		SET last_message_at = CASE WHEN last_message_at < ? THEN ? ELSE last_message_at END,
		    updated_at = ?
		WHERE id = ?
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, messageAt, messageAt, time.Now().UTC(), conversationID)
		return err
	}, "touch conversation")
}

const conversationColumns = `id, tenant_id, contact_phone, status, unread_count, last_message_at, created_at, updated_at`

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	var conv models.Conversation
	err := row.Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.ContactPhone,
		&conv.Status,
		&conv.UnreadCount,
		&conv.LastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation returns the conversation by id or nil.
func (d *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetConversationByPhone returns the conversation for (tenant, contact
// phone) or nil.
func (d *Database) GetConversationByPhone(ctx context.Context, tenantID, contactPhone string) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = ? AND contact_phone = ?`,
		tenantID, models.NormalizePhone(contactPhone))
	return scanConversation(row)
}

const messageColumns = `id, tenant_id, conversation_id, external_id, direction, type, status, body,
	media_url, media_mime_type, caption, filename, template_name, template_language, template_params,
	buttons, error_message, timestamp, created_at, updated_at`

func scanMessage(row *sql.Row) (*models.Message, error) {
	var m models.Message
	var buttons string
	var templateParams string
	err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.ConversationID,
		&m.ExternalID,
		&m.Direction,
		&m.Type,
		&m.Status,
		&m.Body,
		&m.MediaURL,
		&m.MediaMimeType,
		&m.Caption,
		&m.Filename,
		&m.TemplateName,
		&m.TemplateLang,
		&templateParams,
		&buttons,
		&m.ErrorMessage,
		&m.Timestamp,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	if buttons != "" {
		if err := json.Unmarshal([]byte(buttons), &m.Buttons); err != nil {
			return nil, fmt.Errorf("failed to decode message buttons: %w", err)
		}
	}
	if templateParams != "" {
		if err := json.Unmarshal([]byte(templateParams), &m.TemplateParams); err != nil {
			return nil, fmt.Errorf("failed to decode template params: %w", err)
		}
	}
	return &m, nil
}

// InsertMessage persists a message row. For inbound messages the partial
// unique index on (tenant_id, external_id) is the idempotency guard; a
// duplicate surfaces as a unique-constraint error the caller can detect
// with IsUniqueConstraintError.
func (d *Database) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Status == "" {
		msg.Status = models.MessageStatusPending
	}

	buttons := ""
	if len(msg.Buttons) > 0 {
		raw, err := json.Marshal(msg.Buttons)
		if err != nil {
			return fmt.Errorf("failed to encode message buttons: %w", err)
		}
		buttons = string(raw)
	}
	templateParams := ""
	if len(msg.TemplateParams) > 0 {
		raw, err := json.Marshal(msg.TemplateParams)
		if err != nil {
			return fmt.Errorf("failed to encode template params: %w", err)
		}
		templateParams = string(raw)
	}

	query := `
		INSERT INTO messages (id, tenant_id, conversation_id, external_id, direction, type, status, body,
			media_url, media_mime_type, caption, filename, template_name, template_language, template_params,
			buttons, error_message, timestamp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			msg.ID,
			msg.TenantID,
			msg.ConversationID,
			msg.ExternalID,
			msg.Direction,
			msg.Type,
			msg.Status,
			msg.Body,
			msg.MediaURL,
			msg.MediaMimeType,
			msg.Caption,
			msg.Filename,
			msg.TemplateName,
			msg.TemplateLang,
			templateParams,
			buttons,
			msg.ErrorMessage,
			msg.Timestamp,
			msg.CreatedAt,
			msg.UpdatedAt,
		)
		return err
	}, "insert message")
}

// GetMessage returns the message by id or nil.
func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// GetMessageByExternalID returns the message the provider knows by
// externalID, or nil when we have not recorded it.
func (d *Database) GetMessageByExternalID(ctx context.Context, tenantID, externalID string) (*models.Message, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE tenant_id = ? AND external_id = ?`,
		tenantID, externalID)
	return scanMessage(row)
}

// ApplyMessageStatus advances a message along the delivery ladder. Stale
// receipts (e.g. DELIVERED arriving after READ) and anything rejected by
// CanTransitionTo are dropped silently; the guarded UPDATE keeps a
// concurrent writer from sneaking a regression in between read and write.
func (d *Database) ApplyMessageStatus(ctx context.Context, tenantID, externalID string, next models.MessageStatus, errorMessage *string) (bool, error) {
	msg, err := d.GetMessageByExternalID(ctx, tenantID, externalID)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	if !msg.Status.CanTransitionTo(next) {
		return false, nil
	}

	query := `
		UPDATE messages SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	applied := false
	err = retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, query, next, errorMessage, time.Now().UTC(), msg.ID, msg.Status)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n == 1
		return nil
	}, "apply message status")
	return applied, err
}

// SetMessageSent records the provider-assigned id after a successful send
// and moves the message PENDING -> SENT.
func (d *Database) SetMessageSent(ctx context.Context, messageID, externalID string) error {
	query := `
		UPDATE messages SET status = ?, external_id = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			models.MessageStatusSent, externalID, time.Now().UTC(), messageID, models.MessageStatusPending)
		return err
	}, "set message sent")
}

// MarkMessageFailed moves a message to FAILED with the reason.
func (d *Database) MarkMessageFailed(ctx context.Context, messageID, reason string) error {
	query := `
		UPDATE messages SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, models.MessageStatusFailed, reason, time.Now().UTC(), messageID)
		return err
	}, "mark message failed")
}

// FailStalePendingMessages fails outbound messages still PENDING since
// before the cutoff. The queue drops a dispatch job silently once its
// attempts run out, so the row it leaves behind is only caught here.
func (d *Database) FailStalePendingMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, error_message = ?, updated_at = ?
		WHERE status = ? AND direction = ? AND created_at < ?
	`,
		models.MessageStatusFailed, "delivery attempts exhausted", time.Now().UTC(),
		models.MessageStatusPending, models.MessageDirectionOutbound, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale pending messages: %w", err)
	}
	return res.RowsAffected()
}
