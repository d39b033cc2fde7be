package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"waflow/internal/migrations"
	"waflow/internal/models"
	"waflow/internal/security"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer; serializing in the pool beats "database is
	// locked" churn under concurrent workers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveRawEvent persists one webhook change value before any processing
// happens. The id doubles as the queue dedup key.
func (d *Database) SaveRawEvent(ctx context.Context, event *models.RawEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.Status == "" {
		event.Status = models.RawEventStatusPending
	}

	query := `
		INSERT INTO raw_events (id, tenant_id, routing_key, payload, status, retry_count, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			event.ID,
			event.TenantID,
			event.RoutingKey,
			string(event.Payload),
			event.Status,
			event.RetryCount,
			event.ErrorMessage,
			event.CreatedAt,
		)
		return err
	}, "save raw event")
}

// GetRawEvent returns the event or nil when unknown.
func (d *Database) GetRawEvent(ctx context.Context, id string) (*models.RawEvent, error) {
	query := `
		SELECT id, tenant_id, routing_key, payload, status, retry_count, error_message, created_at, processed_at
		FROM raw_events WHERE id = ?
	`

	var event models.RawEvent
	var payload string
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.TenantID,
		&event.RoutingKey,
		&payload,
		&event.Status,
		&event.RetryCount,
		&event.ErrorMessage,
		&event.CreatedAt,
		&event.ProcessedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw event: %w", err)
	}
	event.Payload = []byte(payload)
	return &event, nil
}

// ClaimRawEvent transitions an event to PROCESSING. Only PENDING events and
// FAILED events with attempts left are claimable; anything else returns
// false, which redelivered queue jobs treat as already-done.
func (d *Database) ClaimRawEvent(ctx context.Context, id string, maxAttempts int) (bool, error) {
	query := `
		UPDATE raw_events SET status = ?
		WHERE id = ? AND (status = ? OR (status = ? AND retry_count < ?))
	`

	var claimed bool
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, query,
			models.RawEventStatusProcessing,
			id,
			models.RawEventStatusPending,
			models.RawEventStatusFailed,
			maxAttempts,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n == 1
		return nil
	}, "claim raw event")
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// MarkRawEventProcessed finishes an event successfully.
func (d *Database) MarkRawEventProcessed(ctx context.Context, id string) error {
	query := `
		UPDATE raw_events SET status = ?, processed_at = ?, error_message = NULL
		WHERE id = ?
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, models.RawEventStatusProcessed, time.Now().UTC(), id)
		return err
	}, "mark raw event processed")
}

// MarkRawEventFailed records a processing failure and burns one attempt.
func (d *Database) MarkRawEventFailed(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE raw_events SET status = ?, retry_count = retry_count + 1, error_message = ?
		WHERE id = ?
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, models.RawEventStatusFailed, errMsg, id)
		return err
	}, "mark raw event failed")
}

// CleanupProcessedRawEvents removes processed events older than the
// retention window; returns rows removed.
func (d *Database) CleanupProcessedRawEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM raw_events WHERE status = ? AND processed_at IS NOT NULL AND processed_at < ?`,
		models.RawEventStatusProcessed, olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up raw events: %w", err)
	}
	return res.RowsAffected()
}
