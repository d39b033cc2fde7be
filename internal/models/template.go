package models

import (
	"time"
)

type TemplateStatus string

const (
	TemplateStatusPending  TemplateStatus = "PENDING"
	TemplateStatusApproved TemplateStatus = "APPROVED"
	TemplateStatusRejected TemplateStatus = "REJECTED"
	TemplateStatusPaused   TemplateStatus = "PAUSED"
)

// Template mirrors a provider-side message template. The provider reviews
// templates asynchronously and reports the verdict through the webhook.
type Template struct {
	ID              string         `json:"id" db:"id"`
	TenantID        string         `json:"tenant_id" db:"tenant_id"`
	Name            string         `json:"name" db:"name"`
	Language        string         `json:"language" db:"language"`
	ExternalID      string         `json:"external_id" db:"external_id"`
	Status          TemplateStatus `json:"status" db:"status"`
	RejectionReason *string        `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}
