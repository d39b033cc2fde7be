package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"waflow/internal/models"

	"github.com/google/uuid"
)

// UpsertTemplateStatus records a provider template review verdict, creating
// the template row on first sight. Status webhooks can arrive before the
// tenant ever lists templates locally.
func (d *Database) UpsertTemplateStatus(ctx context.Context, tenantID, name, language, externalID string, status models.TemplateStatus, rejectionReason *string) error {
	if language == "" {
		language = "en"
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO templates (id, tenant_id, name, language, external_id, status, rejection_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, name, language) DO UPDATE SET
			external_id = CASE WHEN excluded.external_id != '' THEN excluded.external_id ELSE templates.external_id END,
			status = excluded.status,
			rejection_reason = excluded.rejection_reason,
			updated_at = excluded.updated_at
	`

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			uuid.NewString(), tenantID, name, language, externalID, status, rejectionReason, now, now)
		return err
	}, "upsert template status")
}

// GetTemplate returns the template for (tenant, name, language) or nil.
func (d *Database) GetTemplate(ctx context.Context, tenantID, name, language string) (*models.Template, error) {
	if language == "" {
		language = "en"
	}

	var t models.Template
	err := d.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, language, external_id, status, rejection_reason, created_at, updated_at
		 FROM templates WHERE tenant_id = ? AND name = ? AND language = ?`,
		tenantID, name, language,
	).Scan(
		&t.ID,
		&t.TenantID,
		&t.Name,
		&t.Language,
		&t.ExternalID,
		&t.Status,
		&t.RejectionReason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}
