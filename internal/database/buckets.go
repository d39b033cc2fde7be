package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"waflow/internal/models"
)

// GetRateBucket returns the tenant's token bucket or nil.
func (d *Database) GetRateBucket(ctx context.Context, tenantID string) (*models.RateBucket, error) {
	var b models.RateBucket
	err := d.db.QueryRowContext(ctx,
		`SELECT tenant_id, tokens, last_refill_ms, updated_at FROM rate_buckets WHERE tenant_id = ?`,
		tenantID,
	).Scan(&b.TenantID, &b.Tokens, &b.LastRefillMs, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rate bucket: %w", err)
	}
	return &b, nil
}

// CreateRateBucket inserts a fresh bucket and reports whether this call
// created it. A concurrent creator winning the race is fine; the loser
// re-reads.
func (d *Database) CreateRateBucket(ctx context.Context, bucket *models.RateBucket) (bool, error) {
	if bucket.UpdatedAt.IsZero() {
		bucket.UpdatedAt = time.Now().UTC()
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO rate_buckets (tenant_id, tokens, last_refill_ms, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO NOTHING`,
		bucket.TenantID, bucket.Tokens, bucket.LastRefillMs, bucket.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create rate bucket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SwapRateBucket applies a token-count update only if the bucket still
// matches the snapshot the caller computed from. Returns false when another
// writer got there first.
func (d *Database) SwapRateBucket(ctx context.Context, tenantID string, oldTokens float64, oldRefillMs int64, newTokens float64, newRefillMs int64) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE rate_buckets SET tokens = ?, last_refill_ms = ?, updated_at = ?
		 WHERE tenant_id = ? AND tokens = ? AND last_refill_ms = ?`,
		newTokens, newRefillMs, time.Now().UTC(), tenantID, oldTokens, oldRefillMs)
	if err != nil {
		return false, fmt.Errorf("failed to swap rate bucket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteIdleRateBuckets drops buckets untouched since the cutoff. Idle
// buckets are fully refilled by definition, so dropping them loses
// nothing.
func (d *Database) DeleteIdleRateBuckets(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM rate_buckets WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle rate buckets: %w", err)
	}
	return res.RowsAffected()
}
