package models

import (
	"time"
)

type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "OPEN"
	ConversationStatusClosed   ConversationStatus = "CLOSED"
	ConversationStatusArchived ConversationStatus = "ARCHIVED"
)

// Conversation is the single thread between a tenant and a contact phone.
// Exactly one exists per (tenant, contact phone); concurrent processing must
// never create a second one.
type Conversation struct {
	ID            string             `json:"id" db:"id"`
	TenantID      string             `json:"tenant_id" db:"tenant_id"`
	ContactPhone  string             `json:"contact_phone" db:"contact_phone"`
	Status        ConversationStatus `json:"status" db:"status"`
	UnreadCount   int                `json:"unread_count" db:"unread_count"`
	LastMessageAt time.Time          `json:"last_message_at" db:"last_message_at"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" db:"updated_at"`
}
