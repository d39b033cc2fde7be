package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"waflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFlowDefinition = `{
	"nodes": [
		{"id": "n1", "type": "start", "data": {"label": "Start"}},
		{"id": "n2", "type": "message", "data": {"text": "Welcome!"}}
	],
	"edges": [
		{"id": "e1", "source": "n1", "target": "n2"}
	]
}`

func seedFlow(t *testing.T, db *Database, tenantID string, trigger models.FlowTriggerType, keywords string) *models.Flow {
	t.Helper()

	flow := &models.Flow{
		TenantID:        tenantID,
		Name:            "Welcome",
		TriggerType:     trigger,
		TriggerKeywords: keywords,
		Definition:      json.RawMessage(testFlowDefinition),
		IsActive:        true,
	}
	require.NoError(t, db.SaveFlow(context.Background(), flow))
	return flow
}

func TestSaveFlow_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help, support")

	stored, err := db.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Welcome", stored.Name)
	assert.Equal(t, []string{"help", "support"}, stored.Keywords())
	assert.JSONEq(t, testFlowDefinition, string(stored.Definition))

	def, err := models.ParseFlowDefinition(stored.Definition)
	require.NoError(t, err)
	require.NotNil(t, def.StartNode())
	assert.Equal(t, "n1", def.StartNode().ID)
}

func TestGetActiveFlowsByTrigger(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")
	other := seedTenant(t, db, "phone-id-2")

	keyword := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")
	seedFlow(t, db, tenant.ID, models.FlowTriggerNewConversation, "")
	seedFlow(t, db, other.ID, models.FlowTriggerKeyword, "help")

	inactive := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "hours")
	inactive.IsActive = false
	require.NoError(t, db.SaveFlow(ctx, inactive))

	flows, err := db.GetActiveFlowsByTrigger(ctx, tenant.ID, models.FlowTriggerKeyword)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, keyword.ID, flows[0].ID)
}

func TestIncrementFlowRuns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")

	require.NoError(t, db.IncrementFlowRuns(ctx, flow.ID))
	require.NoError(t, db.IncrementFlowRuns(ctx, flow.ID))

	stored, err := db.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.RunsCount)
}

func TestFlowExecutionClaim(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")

	exec := &models.FlowExecution{
		FlowID:       flow.ID,
		TenantID:     tenant.ID,
		ContactPhone: "15550001234",
		TriggeredBy:  models.FlowTriggerKeyword,
		State:        map[string]string{models.StateKeyMessage: "help me"},
	}
	require.NoError(t, db.CreateFlowExecution(ctx, exec))

	claimed, err := db.ClaimDueFlowExecutions(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, exec.ID, claimed[0].ID)
	assert.Equal(t, models.FlowExecutionStatusRunning, claimed[0].Status)
	assert.Equal(t, "help me", claimed[0].StateValue(models.StateKeyMessage))

	// Already RUNNING: a second poll finds nothing.
	claimed, err = db.ClaimDueFlowExecutions(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestFlowExecutionClaim_RespectsWakeAt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")

	now := time.Now().UTC()
	wakeAt := now.Add(time.Hour)
	nodeID := "n2"
	exec := &models.FlowExecution{
		FlowID:        flow.ID,
		TenantID:      tenant.ID,
		ContactPhone:  "15550001234",
		TriggeredBy:   models.FlowTriggerKeyword,
		CurrentNodeID: &nodeID,
		WakeAt:        &wakeAt,
	}
	require.NoError(t, db.CreateFlowExecution(ctx, exec))

	claimed, err := db.ClaimDueFlowExecutions(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "sleeping execution is not due yet")

	claimed, err = db.ClaimDueFlowExecutions(ctx, wakeAt.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NotNil(t, claimed[0].CurrentNodeID)
	assert.Equal(t, "n2", *claimed[0].CurrentNodeID)
}

func TestFlowExecutionClaim_OldestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")

	var ids []string
	for i := 0; i < 3; i++ {
		exec := &models.FlowExecution{
			FlowID:       flow.ID,
			TenantID:     tenant.ID,
			ContactPhone: "15550001234",
			TriggeredBy:  models.FlowTriggerKeyword,
		}
		require.NoError(t, db.CreateFlowExecution(ctx, exec))
		ids = append(ids, exec.ID)
		time.Sleep(5 * time.Millisecond)
	}

	claimed, err := db.ClaimDueFlowExecutions(ctx, time.Now().UTC(), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, ids[0], claimed[0].ID)
	assert.Equal(t, ids[1], claimed[1].ID)
}

func TestCompleteFlowExecution(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")

	exec := &models.FlowExecution{
		FlowID:       flow.ID,
		TenantID:     tenant.ID,
		ContactPhone: "15550001234",
		TriggeredBy:  models.FlowTriggerKeyword,
	}
	require.NoError(t, db.CreateFlowExecution(ctx, exec))

	_, err := db.ClaimDueFlowExecutions(ctx, time.Now().UTC(), 1)
	require.NoError(t, err)

	require.NoError(t, db.CompleteFlowExecution(ctx, exec.ID, models.FlowExecutionStatusCompleted, nil))

	stored, err := db.GetFlowExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowExecutionStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestRequeueFlowExecution_ExhaustsRetries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")

	exec := &models.FlowExecution{
		FlowID:       flow.ID,
		TenantID:     tenant.ID,
		ContactPhone: "15550001234",
		TriggeredBy:  models.FlowTriggerKeyword,
		MaxRetries:   3,
	}
	require.NoError(t, db.CreateFlowExecution(ctx, exec))

	resumeNode := "n2"
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := db.ClaimDueFlowExecutions(ctx, time.Now().UTC(), 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)

		require.NoError(t, db.RequeueFlowExecution(ctx, claimed[0], &resumeNode, "send failed"))

		stored, err := db.GetFlowExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, stored.RetryCount)
		if attempt < 3 {
			assert.Equal(t, models.FlowExecutionStatusPending, stored.Status)
			require.NotNil(t, stored.CurrentNodeID)
			assert.Equal(t, "n2", *stored.CurrentNodeID)
		} else {
			assert.Equal(t, models.FlowExecutionStatusFailed, stored.Status)
			require.NotNil(t, stored.CompletedAt)
		}
	}

	claimed, err := db.ClaimDueFlowExecutions(ctx, time.Now().UTC(), 1)
	require.NoError(t, err)
	assert.Empty(t, claimed, "failed execution never runs again")
}
