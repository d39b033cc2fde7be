package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"waflow/internal/models"

	"github.com/google/uuid"
)

// SaveTenant inserts or updates a tenant by id.
func (d *Database) SaveTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	query := `
		INSERT INTO tenants (id, name, routing_key, rate_limit_per_min, business_account, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			routing_key = excluded.routing_key,
			rate_limit_per_min = excluded.rate_limit_per_min,
			business_account = excluded.business_account,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			tenant.ID,
			tenant.Name,
			tenant.RoutingKey,
			tenant.RateLimitPerMin,
			tenant.BusinessAccount,
			tenant.IsActive,
			tenant.CreatedAt,
			tenant.UpdatedAt,
		)
		return err
	}, "save tenant")
}

const tenantColumns = `id, name, routing_key, rate_limit_per_min, business_account, is_active, created_at, updated_at`

func scanTenant(row *sql.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.RoutingKey,
		&t.RateLimitPerMin,
		&t.BusinessAccount,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return &t, nil
}

// GetTenant returns the tenant or nil when unknown.
func (d *Database) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	return scanTenant(row)
}

// GetTenantByRoutingKey resolves the tenant a webhook value belongs to.
// Inactive tenants resolve too; the caller decides what inactivity means.
func (d *Database) GetTenantByRoutingKey(ctx context.Context, routingKey string) (*models.Tenant, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE routing_key = ?`, routingKey)
	return scanTenant(row)
}

// SaveCredential stores a credential with the access token encrypted at
// rest.
func (d *Database) SaveCredential(ctx context.Context, cred *models.Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	encryptedToken, err := d.encryptor.EncryptIfEnabled(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `
		INSERT INTO credentials (id, tenant_id, access_token, phone_number_id, is_valid, failure_reason, validated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			phone_number_id = excluded.phone_number_id,
			is_valid = excluded.is_valid,
			failure_reason = excluded.failure_reason,
			validated_at = excluded.validated_at,
			updated_at = excluded.updated_at
	`

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			cred.ID,
			cred.TenantID,
			encryptedToken,
			cred.PhoneNumberID,
			cred.IsValid,
			cred.FailureReason,
			cred.ValidatedAt,
			cred.CreatedAt,
			cred.UpdatedAt,
		)
		return err
	}, "save credential")
}

// GetActiveCredential returns the newest valid credential for a tenant, or
// nil when the tenant has none. The access token stays encrypted; call
// DecryptAccessToken at the point of use.
func (d *Database) GetActiveCredential(ctx context.Context, tenantID string) (*models.Credential, error) {
	query := `
		SELECT id, tenant_id, access_token, phone_number_id, is_valid, failure_reason, validated_at, created_at, updated_at
		FROM credentials
		WHERE tenant_id = ? AND is_valid = 1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var c models.Credential
	err := d.db.QueryRowContext(ctx, query, tenantID).Scan(
		&c.ID,
		&c.TenantID,
		&c.AccessToken,
		&c.PhoneNumberID,
		&c.IsValid,
		&c.FailureReason,
		&c.ValidatedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active credential: %w", err)
	}
	return &c, nil
}

// DecryptAccessToken recovers the plaintext token from a loaded credential.
func (d *Database) DecryptAccessToken(cred *models.Credential) (string, error) {
	token, err := d.encryptor.DecryptIfEnabled(cred.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return token, nil
}

// InvalidateCredential marks a credential rejected by the provider. Sends
// for the tenant fail fast until a new credential arrives.
func (d *Database) InvalidateCredential(ctx context.Context, credentialID, reason string) error {
	query := `
		UPDATE credentials SET is_valid = 0, failure_reason = ?, updated_at = ?
		WHERE id = ?
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, reason, time.Now().UTC(), credentialID)
		return err
	}, "invalidate credential")
}
