package models

import (
	"time"
)

type MessageDirection string

const (
	MessageDirectionInbound  MessageDirection = "INBOUND"
	MessageDirectionOutbound MessageDirection = "OUTBOUND"
)

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeVideo       MessageType = "video"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeDocument    MessageType = "document"
	MessageTypeLocation    MessageType = "location"
	MessageTypeContactCard MessageType = "contact_card"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeTemplate    MessageType = "template"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "PENDING"
	MessageStatusSent      MessageStatus = "SENT"
	MessageStatusDelivered MessageStatus = "DELIVERED"
	MessageStatusRead      MessageStatus = "READ"
	MessageStatusFailed    MessageStatus = "FAILED"
)

// statusRank orders the delivery ladder. FAILED sits outside the ladder and
// is handled separately (terminal).
var statusRank = map[MessageStatus]int{
	MessageStatusPending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic delivery ladder: a READ message never regresses to DELIVERED,
// and FAILED is terminal.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if s == MessageStatusFailed {
		return false
	}
	if next == MessageStatusFailed {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// Message is one inbound or outbound message within a conversation.
// ExternalID is the provider message id and is the idempotency key for
// inbound processing.
type Message struct {
	ID             string           `json:"id" db:"id"`
	TenantID       string           `json:"tenant_id" db:"tenant_id"`
	ConversationID string           `json:"conversation_id" db:"conversation_id"`
	ExternalID     string           `json:"external_id" db:"external_id"`
	Direction      MessageDirection `json:"direction" db:"direction"`
	Type           MessageType      `json:"type" db:"type"`
	Status         MessageStatus    `json:"status" db:"status"`
	Body           string           `json:"body" db:"body"`
	MediaURL       string           `json:"media_url,omitempty" db:"media_url"`
	MediaMimeType  string           `json:"media_mime_type,omitempty" db:"media_mime_type"`
	Caption        string           `json:"caption,omitempty" db:"caption"`
	Filename       string           `json:"filename,omitempty" db:"filename"`
	TemplateName   string           `json:"template_name,omitempty" db:"template_name"`
	TemplateLang   string           `json:"template_language,omitempty" db:"template_language"`
	TemplateParams []string         `json:"template_params,omitempty" db:"-"`
	Buttons        []MessageButton  `json:"buttons,omitempty" db:"-"`
	ErrorMessage   *string          `json:"error_message,omitempty" db:"error_message"`
	Timestamp      time.Time        `json:"timestamp" db:"timestamp"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// MessageButton is one interactive reply button on an outbound message. The
// provider caps a message at three.
type MessageButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
