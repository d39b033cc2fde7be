package models

import (
	"time"
)

// Tenant is one workspace on the platform. Inbound webhook values are routed
// to a tenant through its routing key (the provider-side phone number id the
// delivery arrived for).
type Tenant struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	RoutingKey      string    `json:"routing_key" db:"routing_key"`
	RateLimitPerMin int       `json:"rate_limit_per_min" db:"rate_limit_per_min"`
	BusinessAccount string    `json:"business_account" db:"business_account"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Credential holds a tenant's provider API access. The access token is
// encrypted at rest and only decrypted at the point of use.
type Credential struct {
	ID            string     `json:"id" db:"id"`
	TenantID      string     `json:"tenant_id" db:"tenant_id"`
	AccessToken   string     `json:"-" db:"access_token"`
	PhoneNumberID string     `json:"phone_number_id" db:"phone_number_id"`
	IsValid       bool       `json:"is_valid" db:"is_valid"`
	FailureReason *string    `json:"failure_reason,omitempty" db:"failure_reason"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty" db:"validated_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
