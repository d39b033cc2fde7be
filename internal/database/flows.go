package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"waflow/internal/models"

	"github.com/google/uuid"
)

// SaveFlow inserts or updates a flow by id.
func (d *Database) SaveFlow(ctx context.Context, flow *models.Flow) error {
	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}
	flow.UpdatedAt = now

	query := `
		INSERT INTO flows (id, tenant_id, name, trigger_type, trigger_keywords, definition, is_active, runs_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			trigger_type = excluded.trigger_type,
			trigger_keywords = excluded.trigger_keywords,
			definition = excluded.definition,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			flow.ID,
			flow.TenantID,
			flow.Name,
			flow.TriggerType,
			flow.TriggerKeywords,
			string(flow.Definition),
			flow.IsActive,
			flow.RunsCount,
			flow.CreatedAt,
			flow.UpdatedAt,
		)
		return err
	}, "save flow")
}

const flowColumns = `id, tenant_id, name, trigger_type, trigger_keywords, definition, is_active, runs_count, created_at, updated_at`

func scanFlow(scan func(dest ...interface{}) error) (*models.Flow, error) {
	var f models.Flow
	var definition string
	err := scan(
		&f.ID,
		&f.TenantID,
		&f.Name,
		&f.TriggerType,
		&f.TriggerKeywords,
		&definition,
		&f.IsActive,
		&f.RunsCount,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Definition = json.RawMessage(definition)
	return &f, nil
}

// GetFlow returns the flow by id or nil.
func (d *Database) GetFlow(ctx context.Context, id string) (*models.Flow, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = ?`, id)
	flow, err := scanFlow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	return flow, nil
}

// GetActiveFlowsByTrigger returns the tenant's active flows with the given
// trigger type, oldest first so trigger fan-out order is stable.
func (d *Database) GetActiveFlowsByTrigger(ctx context.Context, tenantID string, trigger models.FlowTriggerType) ([]*models.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE tenant_id = ? AND trigger_type = ? AND is_active = 1 ORDER BY created_at`

	rows, err := d.db.QueryContext(ctx, query, tenantID, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var flows []*models.Flow
	for rows.Next() {
		flow, err := scanFlow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// IncrementFlowRuns bumps the run counter. Called only when an execution
// actually enters at the start node, not for resumes.
func (d *Database) IncrementFlowRuns(ctx context.Context, flowID string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx,
			`UPDATE flows SET runs_count = runs_count + 1, updated_at = ? WHERE id = ?`,
			time.Now().UTC(), flowID)
		return err
	}, "increment flow runs")
}

// CreateFlowExecution persists an execution outbox row. The poller claims
// it once wake_at (when set) has passed.
func (d *Database) CreateFlowExecution(ctx context.Context, exec *models.FlowExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	exec.CreatedAt = now
	exec.UpdatedAt = now
	if exec.Status == "" {
		exec.Status = models.FlowExecutionStatusPending
	}
	if exec.MaxRetries == 0 {
		exec.MaxRetries = 3
	}

	state := "{}"
	if len(exec.State) > 0 {
		raw, err := json.Marshal(exec.State)
		if err != nil {
			return fmt.Errorf("failed to encode execution state: %w", err)
		}
		state = string(raw)
	}

	query := `
		INSERT INTO flow_executions (id, flow_id, tenant_id, contact_phone, triggered_by, status,
			current_node_id, execution_state, wake_at, retry_count, max_retries, error_message,
			created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			exec.ID,
			exec.FlowID,
			exec.TenantID,
			exec.ContactPhone,
			exec.TriggeredBy,
			exec.Status,
			exec.CurrentNodeID,
			state,
			exec.WakeAt,
			exec.RetryCount,
			exec.MaxRetries,
			exec.ErrorMessage,
			exec.CreatedAt,
			exec.UpdatedAt,
			exec.CompletedAt,
		)
		return err
	}, "create flow execution")
}

const flowExecutionColumns = `id, flow_id, tenant_id, contact_phone, triggered_by, status,
	current_node_id, execution_state, wake_at, retry_count, max_retries, error_message,
	created_at, updated_at, completed_at`

func scanFlowExecution(scan func(dest ...interface{}) error) (*models.FlowExecution, error) {
	var e models.FlowExecution
	var state string
	err := scan(
		&e.ID,
		&e.FlowID,
		&e.TenantID,
		&e.ContactPhone,
		&e.TriggeredBy,
		&e.Status,
		&e.CurrentNodeID,
		&state,
		&e.WakeAt,
		&e.RetryCount,
		&e.MaxRetries,
		&e.ErrorMessage,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if state != "" && state != "{}" {
		if err := json.Unmarshal([]byte(state), &e.State); err != nil {
			return nil, fmt.Errorf("failed to decode execution state: %w", err)
		}
	}
	if e.State == nil {
		e.State = map[string]string{}
	}
	return &e, nil
}

// GetFlowExecution returns the execution by id or nil.
func (d *Database) GetFlowExecution(ctx context.Context, id string) (*models.FlowExecution, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+flowExecutionColumns+` FROM flow_executions WHERE id = ?`, id)
	exec, err := scanFlowExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow execution: %w", err)
	}
	return exec, nil
}

// ClaimDueFlowExecutions atomically moves up to limit due PENDING
// executions to RUNNING and returns them. An execution is due when wake_at
// is unset or has passed. Each row is claimed with a guarded UPDATE so two
// pollers can never both run it.
func (d *Database) ClaimDueFlowExecutions(ctx context.Context, now time.Time, limit int) ([]*models.FlowExecution, error) {
	selectQuery := `
		SELECT id FROM flow_executions
		WHERE status = ? AND (wake_at IS NULL OR wake_at <= ?)
		ORDER BY created_at
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, selectQuery, models.FlowExecutionStatusPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due executions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	claimQuery := `
		UPDATE flow_executions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	var claimed []*models.FlowExecution
	for _, id := range ids {
		res, err := d.db.ExecContext(ctx, claimQuery,
			models.FlowExecutionStatusRunning, time.Now().UTC(), id, models.FlowExecutionStatusPending)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim execution %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if n != 1 {
			continue
		}
		exec, err := d.GetFlowExecution(ctx, id)
		if err != nil {
			return claimed, err
		}
		if exec != nil {
			claimed = append(claimed, exec)
		}
	}
	return claimed, nil
}

// CompleteFlowExecution finishes a RUNNING execution as COMPLETED or
// FAILED.
func (d *Database) CompleteFlowExecution(ctx context.Context, id string, status models.FlowExecutionStatus, errorMessage *string) error {
	now := time.Now().UTC()
	query := `
		UPDATE flow_executions SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, status, errorMessage, now, now, id)
		return err
	}, "complete flow execution")
}

// RequeueFlowExecution returns a failed run to the outbox with the retry
// counter bumped, or finishes it FAILED once retries are spent. The next
// attempt resumes from resumeNodeID with the recorded state.
func (d *Database) RequeueFlowExecution(ctx context.Context, exec *models.FlowExecution, resumeNodeID *string, errorMessage string) error {
	state := "{}"
	if len(exec.State) > 0 {
		raw, err := json.Marshal(exec.State)
		if err != nil {
			return fmt.Errorf("failed to encode execution state: %w", err)
		}
		state = string(raw)
	}

	query := `
		UPDATE flow_executions SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 < max_retries THEN ? ELSE ? END,
			completed_at = CASE WHEN retry_count + 1 < max_retries THEN NULL ELSE ? END,
			current_node_id = ?,
			execution_state = ?,
			error_message = ?,
			updated_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			models.FlowExecutionStatusPending,
			models.FlowExecutionStatusFailed,
			now,
			resumeNodeID,
			state,
			errorMessage,
			now,
			exec.ID,
		)
		return err
	}, "requeue flow execution")
}

// CountFlowExecutions returns how many executions a flow has in the given
// status.
func (d *Database) CountFlowExecutions(ctx context.Context, flowID string, status models.FlowExecutionStatus) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM flow_executions WHERE flow_id = ? AND status = ?`,
		flowID, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count flow executions: %w", err)
	}
	return n, nil
}
