package models

import "time"

// RateBucket is the persisted token bucket behind one tenant's outbound
// rate limit. Tokens refill lazily when the bucket is read; (Tokens,
// LastRefillMs) together act as the compare-and-swap version, so a stale
// writer loses and retries.
type RateBucket struct {
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	Tokens       float64   `json:"tokens" db:"tokens"`
	LastRefillMs int64     `json:"last_refill_ms" db:"last_refill_ms"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
