package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"waflow/internal/database"
	"waflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFlow(t *testing.T, db *database.Database, tenantID string, trigger models.FlowTriggerType, keywords string) *models.Flow {
	t.Helper()
	flow := &models.Flow{
		TenantID:        tenantID,
		Name:            fmt.Sprintf("%s flow", trigger),
		TriggerType:     trigger,
		TriggerKeywords: keywords,
		Definition: json.RawMessage(`{
			"nodes": [
				{"id": "start-1", "type": "start"},
				{"id": "msg-1", "type": "message", "data": {"text": "Hi {{contactName}}!"}}
			],
			"edges": [{"id": "e1", "source": "start-1", "target": "msg-1"}]
		}`),
		IsActive: true,
	}
	require.NoError(t, db.SaveFlow(context.Background(), flow))
	return flow
}

func claimedExecutions(t *testing.T, db *database.Database) []*models.FlowExecution {
	t.Helper()
	execs, err := db.ClaimDueFlowExecutions(context.Background(), time.Now().UTC(), 50)
	require.NoError(t, err)
	return execs
}

func TestMatchKeywordTriggers_FanOut(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	pricing := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "price, cost")
	support := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")
	seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "refund")

	trigger := NewFlowTrigger(db, quietLogger())
	created, err := trigger.MatchKeywordTriggers(context.Background(), tenant.ID, "15550002222", "Ada", "I need HELP with the price")
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	execs := claimedExecutions(t, db)
	require.Len(t, execs, 2)
	flowIDs := map[string]bool{}
	for _, exec := range execs {
		flowIDs[exec.FlowID] = true
		assert.Equal(t, models.FlowTriggerKeyword, exec.TriggeredBy)
		assert.Equal(t, "15550002222", exec.ContactPhone)
		assert.Equal(t, "I need HELP with the price", exec.StateValue(models.StateKeyMessage))
		assert.Equal(t, "Ada", exec.StateValue(models.StateKeyContactName))
		assert.Nil(t, exec.CurrentNodeID)
	}
	assert.True(t, flowIDs[pricing.ID])
	assert.True(t, flowIDs[support.ID])
}

func TestMatchKeywordTriggers_SubstringMatch(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "price")

	trigger := NewFlowTrigger(db, quietLogger())

	// Keyword inside a longer word still matches.
	created, err := trigger.MatchKeywordTriggers(context.Background(), tenant.ID, "15550002222", "", "what's your pricing?")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = trigger.MatchKeywordTriggers(context.Background(), tenant.ID, "15550002222", "", "hello there")
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestMatchKeywordTriggers_OneExecutionPerFlow(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "price,cost,quote")

	trigger := NewFlowTrigger(db, quietLogger())
	created, err := trigger.MatchKeywordTriggers(context.Background(), tenant.ID, "15550002222", "", "price and cost and quote")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	count, err := db.CountFlowExecutions(context.Background(), flow.ID, models.FlowExecutionStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMatchKeywordTriggers_TenantIsolation(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	other := &models.Tenant{Name: "Other Co", RoutingKey: "15550009999", IsActive: true}
	require.NoError(t, db.SaveTenant(context.Background(), other))
	foreign := seedFlow(t, db, other.ID, models.FlowTriggerKeyword, "help")

	trigger := NewFlowTrigger(db, quietLogger())
	created, err := trigger.MatchKeywordTriggers(context.Background(), tenant.ID, "15550002222", "", "help")
	require.NoError(t, err)
	assert.Zero(t, created)

	count, err := db.CountFlowExecutions(context.Background(), foreign.ID, models.FlowExecutionStatusPending)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMatchKeywordTriggers_InactiveFlowNeverFires(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")
	flow.IsActive = false
	require.NoError(t, db.SaveFlow(context.Background(), flow))

	trigger := NewFlowTrigger(db, quietLogger())
	created, err := trigger.MatchKeywordTriggers(context.Background(), tenant.ID, "15550002222", "", "help")
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestTriggerNewConversation(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	welcome := seedFlow(t, db, tenant.ID, models.FlowTriggerNewConversation, "")
	seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "help")

	trigger := NewFlowTrigger(db, quietLogger())
	created, err := trigger.TriggerNewConversation(context.Background(), tenant.ID, "15550002222", "Ada")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	execs := claimedExecutions(t, db)
	require.Len(t, execs, 1)
	assert.Equal(t, welcome.ID, execs[0].FlowID)
	assert.Equal(t, models.FlowTriggerNewConversation, execs[0].TriggeredBy)
	assert.Equal(t, "Ada", execs[0].StateValue(models.StateKeyContactName))
}

func TestResumeFromButton(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	flow := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "order")

	trigger := NewFlowTrigger(db, quietLogger())
	ref := ButtonRef{FlowID: flow.ID, NodeID: "msg-1", ButtonID: "yes"}
	resumed, err := trigger.ResumeFromButton(context.Background(), tenant.ID, "15550002222", "Ada", "Yes please", ref)
	require.NoError(t, err)
	assert.True(t, resumed)

	execs := claimedExecutions(t, db)
	require.Len(t, execs, 1)
	exec := execs[0]
	assert.Equal(t, models.FlowTriggerButtonClick, exec.TriggeredBy)
	require.NotNil(t, exec.CurrentNodeID)
	assert.Equal(t, "msg-1", *exec.CurrentNodeID)
	assert.Equal(t, "yes", exec.StateValue(models.StateKeyLastButtonClick))
	assert.Equal(t, "Yes please", exec.StateValue(models.StateKeyMessage))
}

func TestResumeFromButton_RejectsForeignAndInactiveFlows(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	other := &models.Tenant{Name: "Other Co", RoutingKey: "15550009999", IsActive: true}
	require.NoError(t, db.SaveTenant(context.Background(), other))
	foreign := seedFlow(t, db, other.ID, models.FlowTriggerKeyword, "order")
	paused := seedFlow(t, db, tenant.ID, models.FlowTriggerKeyword, "order")
	paused.IsActive = false
	require.NoError(t, db.SaveFlow(context.Background(), paused))

	trigger := NewFlowTrigger(db, quietLogger())

	tests := []struct {
		name   string
		flowID string
	}{
		{"foreign tenant flow", foreign.ID},
		{"inactive flow", paused.ID},
		{"unknown flow", "no-such-flow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := ButtonRef{FlowID: tt.flowID, NodeID: "msg-1", ButtonID: "yes"}
			resumed, err := trigger.ResumeFromButton(context.Background(), tenant.ID, "15550002222", "", "Yes", ref)
			require.NoError(t, err)
			assert.False(t, resumed)
		})
	}
	assert.Empty(t, claimedExecutions(t, db))
}
