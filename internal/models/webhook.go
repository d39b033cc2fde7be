package models

import (
	"strconv"
	"time"
)

// Provider webhook envelope. One POST carries a batch of entries, each entry
// a batch of changes, each change one value with messages, statuses or a
// template verdict. Routing to a tenant goes through value.metadata.routing_key.

const (
	ChangeFieldMessages       = "messages"
	ChangeFieldTemplateStatus = "message_template_status_update"
)

type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product,omitempty"`
	Metadata         ChangeMetadata   `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []StatusUpdate   `json:"statuses,omitempty"`

	// template status update fields
	Event                   string `json:"event,omitempty"`
	MessageTemplateID       string `json:"message_template_id,omitempty"`
	MessageTemplateName     string `json:"message_template_name,omitempty"`
	MessageTemplateLanguage string `json:"message_template_language,omitempty"`
	Reason                  string `json:"reason,omitempty"`
}

type ChangeMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	RoutingKey         string `json:"routing_key"`
}

type WebhookContact struct {
	WaID    string         `json:"wa_id"`
	Profile ContactProfile `json:"profile"`
}

type ContactProfile struct {
	Name string `json:"name"`
}

type InboundMessage struct {
	From        string               `json:"from"`
	ID          string               `json:"id"`
	Timestamp   string               `json:"timestamp"`
	Type        string               `json:"type"`
	Text        *TextContent         `json:"text,omitempty"`
	Image       *MediaContent        `json:"image,omitempty"`
	Video       *MediaContent        `json:"video,omitempty"`
	Audio       *MediaContent        `json:"audio,omitempty"`
	Document    *MediaContent        `json:"document,omitempty"`
	Location    *LocationContent     `json:"location,omitempty"`
	Contacts    []ContactCard        `json:"contacts,omitempty"`
	Interactive *InteractiveReply    `json:"interactive,omitempty"`
	Button      *TemplateButtonReply `json:"button,omitempty"`
}

type TextContent struct {
	Body string `json:"body"`
}

type MediaContent struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type LocationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type ContactCard struct {
	Name   ContactCardName    `json:"name"`
	Phones []ContactCardPhone `json:"phones,omitempty"`
}

type ContactCardName struct {
	FormattedName string `json:"formatted_name"`
}

type ContactCardPhone struct {
	Phone string `json:"phone"`
	Type  string `json:"type,omitempty"`
}

// InteractiveReply is the answer to an interactive message: the pressed
// button rides in button_reply.
type InteractiveReply struct {
	Type        string           `json:"type"`
	ButtonReply *ButtonReplyItem `json:"button_reply,omitempty"`
}

type ButtonReplyItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TemplateButtonReply is a quick-reply click on a template message.
type TemplateButtonReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type StatusUpdate struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Timestamp   string          `json:"timestamp"`
	RecipientID string          `json:"recipient_id"`
	Errors      []ProviderError `json:"errors,omitempty"`
}

type ProviderError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// SentAt parses the provider's unix-seconds timestamp string; zero time when
// absent or malformed.
func (m *InboundMessage) SentAt() time.Time {
	return parseUnixSeconds(m.Timestamp)
}

// At parses the status timestamp the same way.
func (s *StatusUpdate) At() time.Time {
	return parseUnixSeconds(s.Timestamp)
}

func parseUnixSeconds(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// ButtonReplyID extracts the clicked button id from either interactive or
// template button replies; empty when the message is not a button reply.
func (m *InboundMessage) ButtonReplyID() string {
	if m.Interactive != nil && m.Interactive.ButtonReply != nil {
		return m.Interactive.ButtonReply.ID
	}
	if m.Button != nil {
		return m.Button.Payload
	}
	return ""
}

// ButtonReplyTitle returns the human label of the clicked button.
func (m *InboundMessage) ButtonReplyTitle() string {
	if m.Interactive != nil && m.Interactive.ButtonReply != nil {
		return m.Interactive.ButtonReply.Title
	}
	if m.Button != nil {
		return m.Button.Text
	}
	return ""
}

// ProfileNameFor finds the display name the envelope carries for a phone.
func (v *ChangeValue) ProfileNameFor(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}
